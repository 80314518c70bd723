package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSender_Send(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bot123456789:abc/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	s, err := NewTelegramSender(srv.URL+"/", "123456789:abc", "-100200")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), DailySummary("2026-10-15", 0, 0, testNow)))

	assert.Equal(t, "-100200", got.ChatID)
	assert.Contains(t, got.Text, "[daily_summary]")
	assert.True(t, got.DisableWebPagePreview)
}

func TestTelegramSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	s, err := NewTelegramSender(srv.URL, "123456789:abc", "nope")
	require.NoError(t, err)
	err = s.Send(context.Background(), Lifecycle(EventStartup, "hi", testNow))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramSender_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s, err := NewTelegramSender(srv.URL, "123456789:secret", "1")
	require.NoError(t, err)
	err = s.Send(context.Background(), Lifecycle(EventStartup, "hi", testNow))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestNewTelegramSender_RequiresCredentials(t *testing.T) {
	_, err := NewTelegramSender("", "", "1")
	assert.Error(t, err)
	_, err = NewTelegramSender("", "token", "")
	assert.Error(t, err)

	s, err := NewTelegramSender("", "token", "1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.telegram.org", s.apiBase)
	assert.Equal(t, "telegram", s.Name())
}
