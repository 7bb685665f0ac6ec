// Package httpstore talks to the remote document service over its JSON API
// and receives push snapshots over a websocket watch stream.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lifesync/internal/core"
	"lifesync/internal/remote"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the document service at baseURL. timeout
// bounds every individual request; zero means the default of 10s.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) documentURL(id string) string {
	return c.baseURL + "/api/v1/documents/" + url.PathEscape(id)
}

func (c *Client) Get(ctx context.Context, id string) (*core.UserDataDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.documentURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrRead, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrRead, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, remote.ErrNotFound
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", remote.ErrRead, resp.StatusCode)
	}

	var doc core.UserDataDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", remote.ErrRead, err)
	}
	return &doc, nil
}

func (c *Client) Set(ctx context.Context, id string, doc *core.UserDataDocument) error {
	return c.write(ctx, http.MethodPut, c.documentURL(id), doc)
}

func (c *Client) Update(ctx context.Context, id string, patch core.DocumentPatch) error {
	return c.write(ctx, http.MethodPatch, c.documentURL(id), patch)
}

func (c *Client) write(ctx context.Context, method, target string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", remote.ErrWrite, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrWrite, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrWrite, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return remote.ErrNotFound
	default:
		return fmt.Errorf("%w: unexpected status %d", remote.ErrWrite, resp.StatusCode)
	}
}

// ClearPersistenceCache is a no-op: this adapter keeps no client-side
// persistence of its own.
func (c *Client) ClearPersistenceCache(ctx context.Context) error {
	slog.DebugContext(ctx, "Clear persistence cache requested, nothing to do")
	return nil
}

// Health reports whether the document service answers its health endpoint.
// Used as the connectivity probe.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
