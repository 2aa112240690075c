package reader

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

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		SessionDataDir: "/var/lib/chanrelay/sessions",
		Timeout:        5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return client, server
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	assert.Error(t, err)
}

func TestStartSessionSendsDataDir(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	err := client.StartSession(context.Background(), "chan-1")
	require.NoError(t, err)

	assert.Equal(t, "/api/sessions/chan-1/start", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "/var/lib/chanrelay/sessions", gotBody["data_dir"])
}

func TestSessionGoneMapsToErrSessionDead(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))

	err := client.StartSession(context.Background(), "chan-1")
	assert.ErrorIs(t, err, ErrSessionDead)

	_, err = client.Poll(context.Background(), "chan-1", "", 10)
	assert.ErrorIs(t, err, ErrSessionDead)
}

func TestSessionStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/chan-1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(sessionStatusResponse{Status: "WORKING"})
	}))

	status, err := client.SessionStatus(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.Equal(t, SessionWorking, status)
}

func TestPollPassesAfterAndLimit(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/channels/chan-1/messages", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("after"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(pollResponse{Records: []Record{
			{ID: "1001", Author: "alice", Body: "hi"},
			{ID: "1002", Author: "bob", Body: "yo"},
		}})
	}))

	records, err := client.Poll(context.Background(), "chan-1", "1000", 50)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "1001", records[0].ID)
	assert.Equal(t, "1002", records[1].ID)
}

func TestPollOmitsEmptyAfter(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.URL.Query()["after"]
		assert.False(t, present)
		_ = json.NewEncoder(w).Encode(pollResponse{})
	}))

	_, err := client.Poll(context.Background(), "chan-1", "", 10)
	assert.NoError(t, err)
}

func TestPollRejectsOversizedIdentifiers(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the gateway")
	}))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}

	_, err := client.Poll(context.Background(), "chan-1", string(long), 10)
	assert.Error(t, err)

	_, err = client.Poll(context.Background(), string(long), "", 10)
	assert.Error(t, err)
}

func TestPollServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Poll(context.Background(), "chan-1", "", 10)
	assert.ErrorContains(t, err, "502")
}

func TestWaitForSessionReady(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "STARTING"
		if calls >= 2 {
			status = "WORKING"
		}
		_ = json.NewEncoder(w).Encode(sessionStatusResponse{Status: status})
	}))

	err := client.WaitForSessionReady(context.Background(), "chan-1", 10*time.Second)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestWaitForSessionReadyFailedSession(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sessionStatusResponse{Status: "FAILED"})
	}))

	err := client.WaitForSessionReady(context.Background(), "chan-1", 10*time.Second)
	assert.ErrorIs(t, err, ErrSessionDead)
}

func TestProxyExemptsGatewayHost(t *testing.T) {
	client, err := NewClient(ClientConfig{
		BaseURL: "http://gateway.local:9000",
		Proxy:   "http://squid.local:3128",
		NoProxy: []string{"metrics.local"},
	}, nil)
	require.NoError(t, err)

	transport := client.client.Transport.(*http.Transport)

	proxyFor := func(raw string) string {
		req, err := http.NewRequest(http.MethodGet, raw, nil)
		require.NoError(t, err)
		u, err := transport.Proxy(req)
		require.NoError(t, err)
		if u == nil {
			return ""
		}
		return u.String()
	}

	// Gateway control traffic and no_proxy hosts bypass the content proxy.
	assert.Empty(t, proxyFor("http://gateway.local:9000/api/sessions/x/status"))
	assert.Empty(t, proxyFor("http://metrics.local/push"))
	assert.Equal(t, "http://squid.local:3128", proxyFor("https://source.example.com/channels/1"))
}
