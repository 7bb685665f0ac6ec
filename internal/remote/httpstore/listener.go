package httpstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	gorilla "github.com/gorilla/websocket"

	"lifesync/internal/core"
	"lifesync/internal/remote"
)

const (
	watchReconnectBase = time.Second
	watchReconnectMax  = 30 * time.Second
)

// Watch opens a websocket watch stream for the document and delivers every
// remote snapshot to onSnapshot. Transport failures go to onError and the
// stream reconnects with capped exponential backoff and jitter; the previous
// snapshot state is never touched by a failure. The subscription lives until
// the returned unsubscribe func is called or ctx is cancelled.
func (c *Client) Watch(ctx context.Context, id string, onSnapshot func(*core.UserDataDocument), onError func(error)) (func(), error) {
	target, err := c.watchURL(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrRead, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go c.watchLoop(watchCtx, target, onSnapshot, onError)
	return cancel, nil
}

func (c *Client) watchURL(id string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/documents/" + url.PathEscape(id) + "/watch"
	return u.String(), nil
}

func (c *Client) watchLoop(ctx context.Context, target string, onSnapshot func(*core.UserDataDocument), onError func(error)) {
	backoff := watchReconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := gorilla.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			onError(fmt.Errorf("%w: dial watch stream: %v", remote.ErrRead, err))
			if !sleepCtx(ctx, withJitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		slog.DebugContext(ctx, "Watch stream connected", "url", target)
		backoff = watchReconnectBase
		c.readSnapshots(ctx, conn, onSnapshot, onError)
		conn.Close()
	}
}

func (c *Client) readSnapshots(ctx context.Context, conn *gorilla.Conn, onSnapshot func(*core.UserDataDocument), onError func(error)) {
	// Unblock ReadMessage when the subscription is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				onError(fmt.Errorf("%w: watch stream closed: %v", remote.ErrRead, err))
			}
			return
		}
		var doc core.UserDataDocument
		if err := json.Unmarshal(msg, &doc); err != nil {
			onError(fmt.Errorf("%w: decode snapshot: %v", remote.ErrRead, err))
			continue
		}
		onSnapshot(&doc)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > watchReconnectMax {
		return watchReconnectMax
	}
	return d
}

func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
