package httpstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"lifesync/internal/core"
)

func TestWatchDeliversSnapshots(t *testing.T) {
	upgrader := gorilla.Upgrader{}
	send := make(chan *core.UserDataDocument)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/documents/user-1/watch" {
			t.Errorf("watch path = %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for doc := range send {
			payload, _ := json.Marshal(doc)
			if err := conn.WriteMessage(gorilla.TextMessage, payload); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	defer close(send)

	c, err := NewClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	snaps := make(chan *core.UserDataDocument, 1)
	unsubscribe, err := c.Watch(context.Background(), "user-1", func(doc *core.UserDataDocument) {
		snaps <- doc
	}, func(err error) {
		t.Logf("watch error: %v", err)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer unsubscribe()

	doc := core.NewDocument("user-1")
	doc.HeroProfile.Name = "Pushed"
	select {
	case send <- doc:
	case <-time.After(2 * time.Second):
		t.Fatal("watch stream never connected")
	}

	select {
	case got := <-snaps:
		if got.HeroProfile.Name != "Pushed" {
			t.Fatalf("snapshot hero = %q", got.HeroProfile.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestWatchReportsErrorsAndReconnects(t *testing.T) {
	upgrader := gorilla.Upgrader{}
	connects := make(chan struct{}, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connects <- struct{}{}
		// Drop the stream immediately to force a reconnect.
		conn.Close()
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	errs := make(chan error, 8)
	unsubscribe, err := c.Watch(context.Background(), "user-1", func(*core.UserDataDocument) {}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer unsubscribe()

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("watch stream never connected")
	}
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("dropped stream never reported")
	}
	// The loop dials again after the drop.
	select {
	case <-connects:
	case <-time.After(5 * time.Second):
		t.Fatal("watch stream never reconnected")
	}
}

func TestWatchUnsubscribeStopsStream(t *testing.T) {
	upgrader := gorilla.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	snaps := make(chan *core.UserDataDocument, 1)
	unsubscribe, err := c.Watch(context.Background(), "user-1", func(doc *core.UserDataDocument) {
		snaps <- doc
	}, func(error) {})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	// Give the loop a moment to connect, then cancel.
	time.Sleep(50 * time.Millisecond)
	unsubscribe()

	select {
	case <-snaps:
		t.Fatal("snapshot after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
