package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

func TestClient_WatchActivity(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/activity" || r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.URL.Query()["factory"]; len(got) != 1 || got[0] != "Factory One" {
			t.Errorf("factory filter: got %v", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(ActivityEvent{Type: "serials.ingested", Factory: "Factory One", Message: "2 serial numbers added"})
		_ = conn.WriteJSON(ActivityEvent{Type: "registration.revoked", Factory: "Factory One"})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	var got []ActivityEvent
	err := NewClient(srv.URL, "s3cret").WatchActivity(context.Background(), []string{"Factory One"}, func(ev ActivityEvent) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(got) != 2 || got[0].Message != "2 serial numbers added" || got[1].Type != "registration.revoked" {
		t.Errorf("unexpected events: %+v", got)
	}

	err = NewClient(srv.URL, "wrong").WatchActivity(context.Background(), nil, func(ActivityEvent) error { return nil })
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}
