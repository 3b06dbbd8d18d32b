package activity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	ev := &Event{Type: EventSerialsIngested, Factory: "Factory One"}

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil filter", nil, true},
		{"empty filter", &Filter{}, true},
		{"factory match ignores case", &Filter{Factories: []string{"factory one"}}, true},
		{"factory mismatch", &Filter{Factories: []string{"Factory Two"}}, false},
		{"type match", &Filter{Types: []EventType{EventSerialsIngested}}, true},
		{"type mismatch", &Filter{Types: []EventType{EventRegistrationApproved}}, false},
		{"both must match", &Filter{Factories: []string{"Factory One"}, Types: []EventType{EventRegistrationDenied}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(ev))
		})
	}
}

func startFeed(t *testing.T) (*Feed, string) {
	t.Helper()
	feed := NewFeed(DefaultConfig(), zerolog.Nop())
	feed.Start()
	srv := httptest.NewServer(http.HandlerFunc(feed.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		feed.Stop()
	})
	return feed, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestFeed_StreamsFilteredEvents(t *testing.T) {
	feed, url := startFeed(t)
	conn := dial(t, url+"?factory=Factory+One")

	require.NoError(t, feed.PublishIngested(context.Background(), ingest.Event{
		Provenance: "Factory Two",
		Added:      3,
	}))
	chunk := 1
	require.NoError(t, feed.PublishIngested(context.Background(), ingest.Event{
		Provenance:  "Factory One",
		BatchID:     "B-1",
		ChunkIndex:  &chunk,
		Accepted:    2,
		Added:       2,
		PayloadHash: "abc",
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, EventSerialsIngested, ev.Type)
	assert.Equal(t, "Factory One", ev.Factory)
	assert.Equal(t, "2 serial numbers added", ev.Message)
	assert.Equal(t, "B-1", ev.Data["batch_id"])
	assert.EqualValues(t, 1, ev.Data["chunk_index"])
	assert.NotEqual(t, "", ev.ID.String())
}

func TestFeed_BacklogAndDecisions(t *testing.T) {
	feed, url := startFeed(t)

	feed.RegistrationDecided(context.Background(), 7, "Factory One", "approved", "ops")
	feed.RegistrationDecided(context.Background(), 7, "Factory One", "revoked", "")

	// A client connecting later still sees recent events, oldest first.
	conn := dial(t, url+"?type=registration.revoked")
	ev := readEvent(t, conn)
	assert.Equal(t, EventRegistrationRevoked, ev.Type)
	assert.Equal(t, "Registration 7 revoked", ev.Message)
	assert.False(t, ev.At.IsZero())
}

func TestFeed_FilterUpdate(t *testing.T) {
	feed, url := startFeed(t)
	conn := dial(t, url+"?factory=Nobody")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "filter",
		"filter": Filter{Factories: []string{"Factory One"}},
	}))
	require.Eventually(t, func() bool {
		feed.mu.RLock()
		defer feed.mu.RUnlock()
		for _, c := range feed.clients {
			c.mu.Lock()
			applied := len(c.filter.Factories) == 1 && c.filter.Factories[0] == "Factory One"
			c.mu.Unlock()
			return applied
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	feed.RegistrationDecided(context.Background(), 1, "Factory One", "denied", "ops")
	ev := readEvent(t, conn)
	assert.Equal(t, EventRegistrationDenied, ev.Type)
	assert.Equal(t, "Registration 1 denied by ops", ev.Message)
}

func TestFeed_StopClosesClients(t *testing.T) {
	feed, url := startFeed(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	feed.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
