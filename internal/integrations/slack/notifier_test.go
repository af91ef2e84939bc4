package slackbot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackNotifierPostsToChannel(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got <- r.FormValue("channel") + "|" + r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	n := NewSlackNotifier("xoxb-test", "C1", slack.OptionAPIURL(srv.URL+"/"))
	require.NoError(t, n.Notify(context.Background(), "batch done"))

	select {
	case msg := <-got:
		assert.Equal(t, "C1|batch done", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("slack API was not called")
	}
}

type failingNotifier struct{ called chan struct{} }

func (f failingNotifier) Notify(context.Context, string) error {
	close(f.called)
	return errors.New("channel_not_found")
}

func TestBroadcastDoesNotBlockOnFailure(t *testing.T) {
	f := failingNotifier{called: make(chan struct{})}

	start := time.Now()
	Broadcast(f, "hello")
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case <-f.called:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was never invoked")
	}
	Broadcast(nil, "ignored")
}
