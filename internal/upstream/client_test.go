package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:         server.URL,
		AdminToken:      "admin-token",
		SessionUser:     "keysmith",
		SessionPassword: "secret",
		Timeout:         5 * time.Second,
	}, nil, zerolog.Nop())

	return client, server
}

func TestClient_GetKeyUsage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/admin/keys/42/usage", r.URL.Path)
		require.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]int64{"used": 10, "limit": 100, "remaining": 90})
	}))

	usage, err := client.GetKeyUsage(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, int64(10), usage.Used)
	require.Equal(t, int64(100), usage.Limit)
	require.Equal(t, int64(90), usage.Remaining)
}

func TestClient_SetKeyEnabled(t *testing.T) {
	var gotBody struct {
		Enabled bool `json:"enabled"`
	}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/admin/keys/7/enabled", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.SetKeyEnabled(context.Background(), 7, true))
	require.True(t, gotBody.Enabled)
}

func TestClient_AddUser(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/admin/users", r.URL.Path)

		var req struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "alice", req.Name)

		json.NewEncoder(w).Encode(ProvisionedUser{UserID: 5, KeyID: 50, Key: "sk-new"})
	}))

	out, err := client.AddUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(5), out.UserID)
	require.Equal(t, int64(50), out.KeyID)
	require.Equal(t, "sk-new", out.Key)
}

func TestClient_RefreshesSessionOnceOn401(t *testing.T) {
	var usageCalls, sessionCalls atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/session":
			sessionCalls.Add(1)
			var creds struct {
				User     string `json:"user"`
				Password string `json:"password"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			require.Equal(t, "keysmith", creds.User)
			json.NewEncoder(w).Encode(map[string]string{"token": "fresh-token"})

		case "/api/admin/keys/1/usage":
			usageCalls.Add(1)
			if r.Header.Get("X-Session-Token") != "fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]int64{"used": 1})

		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	usage, err := client.GetKeyUsage(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), usage.Used)
	require.Equal(t, int32(2), usageCalls.Load(), "original call plus one retry")
	require.Equal(t, int32(1), sessionCalls.Load())

	// The refreshed token is reused; no second refresh needed.
	_, err = client.GetKeyUsage(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), sessionCalls.Load())
}

func TestClient_SecondUnauthorizedSurfaces(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/session" {
			json.NewEncoder(w).Encode(map[string]string{"token": "still-bad"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetKeyUsage(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestClient_RefreshWithoutCredentialsFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:    server.URL,
		AdminToken: "admin-token",
	}, nil, zerolog.Nop())

	_, err := client.GetKeyUsage(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no session credentials")
}

func TestClient_ErrorStatusIncludesBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("backend exploded"))
	}))

	err := client.SetKeyEnabled(context.Background(), 1, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
	require.Contains(t, err.Error(), "backend exploded")
}

func TestClient_ListActiveSessions(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/admin/sessions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sessions": []Session{{ID: "s1", UserName: "alice"}},
		})
	}))

	sessions, err := client.ListActiveSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "s1", sessions[0].ID)
}
