package upload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusHost serves a scripted sequence of processing statuses. A status of
// "!error" responds with a 500 instead.
func statusHost(t *testing.T, statuses []string) (*httptest.Server, *int) {
	queries := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Less(t, queries, len(statuses), "more queries than scripted statuses")
		status := statuses[queries]
		queries++

		if status == "!error" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"items":[{"status":{"uploadStatus":"%s"}}]}`, status)
	}))
	t.Cleanup(server.Close)
	return server, &queries
}

func newPoller(server *httptest.Server) *StatusPoller {
	return &StatusPoller{
		client:   http.DefaultClient,
		endpoint: server.URL,
		token:    "tok",
		interval: 5 * time.Millisecond,
	}
}

func TestPollerStopsAfterProcessed(t *testing.T) {
	server, queries := statusHost(t, []string{"uploaded", "uploaded", "processed"})

	var updates []Update
	newPoller(server).Poll(context.Background(), "vid1", func(u Update) {
		updates = append(updates, u)
	})

	assert.Equal(t, 3, *queries, "exactly one query per scripted status")
	require.Len(t, updates, 3)
	assert.Equal(t, "uploaded", updates[0].Status)
	assert.Equal(t, "uploaded", updates[1].Status)
	assert.Equal(t, "processed", updates[2].Status)
}

func TestPollerUnknownStatusIsTerminalFailure(t *testing.T) {
	server, queries := statusHost(t, []string{"rejected"})

	var updates []Update
	newPoller(server).Poll(context.Background(), "vid2", func(u Update) {
		updates = append(updates, u)
	})

	assert.Equal(t, 1, *queries)
	require.Len(t, updates, 1)
	assert.Equal(t, "rejected", updates[0].Status)
	assert.True(t, updates[0].Terminal())
}

func TestPollerQueryErrorKeepsPolling(t *testing.T) {
	server, queries := statusHost(t, []string{"!error", "processed"})

	var updates []Update
	newPoller(server).Poll(context.Background(), "vid3", func(u Update) {
		updates = append(updates, u)
	})

	assert.Equal(t, 2, *queries)
	require.Len(t, updates, 2)
	assert.Error(t, updates[0].Err)
	assert.False(t, updates[0].Terminal())
	assert.Equal(t, "processed", updates[1].Status)
}

func TestPollerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"status":{"uploadStatus":"uploaded"}}]}`)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		newPoller(server).Poll(ctx, "vid4", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
}

func TestPollerQuerySendsIDAndToken(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		fmt.Fprint(w, `{"items":[{"status":{"uploadStatus":"processed"}}]}`)
	}))
	t.Cleanup(server.Close)

	newPoller(server).Poll(context.Background(), "vid5", nil)

	require.NotNil(t, captured)
	assert.Equal(t, "vid5", captured.URL.Query().Get("id"))
	assert.Equal(t, "status", captured.URL.Query().Get("part"))
	assert.Equal(t, "Bearer tok", captured.Header.Get("Authorization"))
}

func TestUpdateTerminal(t *testing.T) {
	assert.False(t, Update{Status: StatusUploaded}.Terminal())
	assert.True(t, Update{Status: StatusProcessed}.Terminal())
	assert.True(t, Update{Status: "failed"}.Terminal())
	assert.False(t, Update{Err: fmt.Errorf("boom")}.Terminal())
}
