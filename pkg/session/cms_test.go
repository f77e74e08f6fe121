package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCMSClient_IssueToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/token", r.URL.Path)
		require.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		var req issueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, "user@example.com", req.Email)

		json.NewEncoder(w).Encode(issueResponse{Token: "fresh-token"})
	}))
	defer server.Close()

	client := NewCMSClient(server.URL, "service-key", time.Second, nil)

	token, err := client.IssueToken(context.Background(), Principal{ID: "u1", Email: "user@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
}

func TestCMSClient_IssueToken_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewCMSClient(server.URL, "service-key", time.Second, nil)

	_, err := client.IssueToken(context.Background(), Principal{ID: "u1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestCMSClient_IssueToken_EmptyPrincipal(t *testing.T) {
	client := NewCMSClient("http://unused.invalid", "service-key", time.Second, nil)

	_, err := client.IssueToken(context.Background(), Principal{})
	assert.Error(t, err)
}

func TestCMSClient_IssueToken_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(issueResponse{Token: ""})
	}))
	defer server.Close()

	client := NewCMSClient(server.URL, "service-key", time.Second, nil)

	_, err := client.IssueToken(context.Background(), Principal{ID: "u1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty token")
}

func TestCMSClient_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/me", r.URL.Path)
		if r.Header.Get("Authorization") == "Bearer good-token" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewCMSClient(server.URL, "service-key", time.Second, nil)
	ctx := context.Background()

	ok, err := client.Probe(ctx, "good-token")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Probe(ctx, "bad-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCMSClient_Probe_EmptyToken(t *testing.T) {
	client := NewCMSClient("http://unused.invalid", "service-key", time.Second, nil)

	ok, err := client.Probe(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCMSClient_Probe_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // shut down before probing

	client := NewCMSClient(server.URL, "service-key", time.Second, nil)

	ok, err := client.Probe(context.Background(), "some-token")
	assert.Error(t, err)
	assert.False(t, ok)
}
