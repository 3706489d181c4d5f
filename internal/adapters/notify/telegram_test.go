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

func TestTelegramNotify(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("secret-token", "42")
	tg.baseURL = srv.URL

	require.NoError(t, tg.Notify(context.Background(), "Venue timeout", "taker: balance: timeout"))

	assert.Equal(t, "/botsecret-token/sendMessage", gotPath)
	assert.Equal(t, "42", gotPayload["chat_id"])
	assert.Contains(t, gotPayload["text"], "*Venue timeout*")
	assert.Contains(t, gotPayload["text"], "taker: balance: timeout")
}

func TestTelegramNotify_SurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegram("secret-token", "42")
	tg.baseURL = srv.URL

	err := tg.Notify(context.Background(), "subject", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "chat not found")
}
