package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMailer(t *testing.T, handler http.HandlerFunc) *SendGrid {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	m, err := New(Config{
		APIKey:    "sg-key",
		BaseURL:   srv.URL,
		FromEmail: "noreply@example.com",
		FromName:  "Progress Tracker",
	}, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestSendGrid_Send_OK(t *testing.T) {
	var got mailSendRequest
	m := newTestMailer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/mail/send", r.URL.Path)
		require.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})

	err := m.Send(context.Background(), "alice@example.com", "Alice", "Reminder", "<p>hi</p>")
	require.NoError(t, err)
	require.Equal(t, "noreply@example.com", got.From.Email)
	require.Len(t, got.Personalizations, 1)
	require.Equal(t, "alice@example.com", got.Personalizations[0].To[0].Email)
	require.Equal(t, "Reminder", got.Subject)
	require.Equal(t, "text/html", got.Content[0].Type)
}

func TestSendGrid_Send_ErrorStatus(t *testing.T) {
	m := newTestMailer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	})

	err := m.Send(context.Background(), "alice@example.com", "Alice", "Reminder", "<p>hi</p>")
	require.Error(t, err)
	require.Contains(t, err.Error(), "http 401")
	require.Contains(t, err.Error(), "bad key")
}

func TestNew_RequiresKeyAndFrom(t *testing.T) {
	_, err := New(Config{FromEmail: "x@example.com"}, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{APIKey: "k"}, zap.NewNop())
	require.Error(t, err)
}
