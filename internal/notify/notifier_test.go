package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name  string
	err   error
	sent  []string
	calls int
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotify_FiltersByEventKind(t *testing.T) {
	s := &fakeSender{name: "chat"}
	n := NewNotifier([]Sender{s}, []string{"breaker_trip"}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "fill", "Fill", "ignored"))
	assert.Zero(t, s.calls)

	require.NoError(t, n.Notify(context.Background(), "breaker_trip", "Tripped", "details"))
	assert.Equal(t, []string{"Tripped"}, s.sent)
}

func TestNotify_EmptyAllowListPassesEverything(t *testing.T) {
	s := &fakeSender{name: "chat"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "Hello", "body"))
	assert.Equal(t, 1, s.calls)
}

func TestNotify_FailedSenderDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("api down")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "breaker_trip", "Tripped", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Equal(t, []string{"Tripped"}, good.sent)
}

func TestDiscordSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "Tripped", "loss limit"))
	assert.Equal(t, "**Tripped**\nloss limit", got["content"])
}

func TestDiscordSender_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok-123/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tg := NewTelegramSender("tok-123", "chat-9")
	tg.apiBase = srv.URL
	require.NoError(t, tg.Send(context.Background(), "Tripped", "loss limit"))
	assert.Equal(t, "chat-9", got["chat_id"])
	assert.Equal(t, "*Tripped*\nloss limit", got["text"])
}
