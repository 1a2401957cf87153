package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCreds(t *testing.T, rec Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func refreshServer(t *testing.T, calls *atomic.Int64, resp map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		assert.NotEmpty(t, r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetValidAccessToken_FreshTokenNoRefresh(t *testing.T) {
	path := writeCreds(t, Record{
		AccessToken:   "tok-fresh",
		RefreshToken:  "r1",
		ExpiryEpochMs: time.Now().Add(time.Hour).UnixMilli(),
	})

	var calls atomic.Int64
	srv := refreshServer(t, &calls, nil)

	m := NewManager(Options{Path: path, ClientID: "client-1", RefreshURL: srv.URL})
	tok, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", tok)
	assert.Zero(t, calls.Load())
}

func TestGetValidAccessToken_RefreshesStaleToken(t *testing.T) {
	path := writeCreds(t, Record{
		AccessToken:   "tok-old",
		RefreshToken:  "r1",
		ExpiryEpochMs: time.Now().Add(-time.Minute).UnixMilli(),
		ResourceURL:   "old.example.com",
	})

	var calls atomic.Int64
	srv := refreshServer(t, &calls, map[string]interface{}{
		"access_token": "tok-new",
		"expires_in":   3600,
	})

	m := NewManager(Options{Path: path, ClientID: "client-1", RefreshURL: srv.URL})
	tok, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-new", tok)
	assert.Equal(t, int64(1), calls.Load())

	// Absent fields carry over from the previous record.
	rec := m.rec.Load()
	assert.Equal(t, "r1", rec.RefreshToken)
	assert.Equal(t, "old.example.com", rec.ResourceURL)

	// Invariant 6: the vended token's expiry is strictly in the future,
	// with the safety margin applied.
	margin := rec.ExpiryEpochMs - time.Now().UnixMilli()
	assert.Greater(t, margin, int64(50*60*1000))
	assert.Less(t, margin, int64(60*60*1000))
}

func TestGetValidAccessToken_SingleFlight(t *testing.T) {
	path := writeCreds(t, Record{
		AccessToken:   "tok-old",
		RefreshToken:  "r1",
		ExpiryEpochMs: time.Now().Add(-time.Minute).UnixMilli(),
	})

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the coalescing window
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-new",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	m := NewManager(Options{Path: path, ClientID: "client-1", RefreshURL: srv.URL})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.GetValidAccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-new", tok)
		}()
	}
	wg.Wait()

	// Invariant 7: at most one outgoing refresh for the burst.
	assert.Equal(t, int64(1), calls.Load())
}

func TestGetValidAccessToken_RefreshFailurePropagates(t *testing.T) {
	path := writeCreds(t, Record{
		AccessToken:   "tok-old",
		RefreshToken:  "r1",
		ExpiryEpochMs: time.Now().Add(-time.Minute).UnixMilli(),
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewManager(Options{Path: path, ClientID: "client-1", RefreshURL: srv.URL})
	_, err := m.GetValidAccessToken(context.Background())
	require.Error(t, err)
}

func TestGetValidAccessToken_NoCredentialsLoaded(t *testing.T) {
	m := NewManager(Options{Path: filepath.Join(t.TempDir(), "missing.json")})
	_, err := m.GetValidAccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestRefresh_PersistsAtomicallyWithOwnerOnlyPerms(t *testing.T) {
	path := writeCreds(t, Record{
		AccessToken:   "tok-old",
		RefreshToken:  "r1",
		ExpiryEpochMs: time.Now().Add(-time.Minute).UnixMilli(),
	})

	var calls atomic.Int64
	srv := refreshServer(t, &calls, map[string]interface{}{
		"access_token":  "tok-new",
		"refresh_token": "r2",
		"expires_in":    3600,
	})

	m := NewManager(Options{Path: path, ClientID: "client-1", RefreshURL: srv.URL})
	_, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Record
	require.NoError(t, json.Unmarshal(b, &onDisk))
	assert.Equal(t, "tok-new", onDisk.AccessToken)
	assert.Equal(t, "r2", onDisk.RefreshToken)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	// No temp file is left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestGetBaseURL_PrefixesScheme(t *testing.T) {
	path := writeCreds(t, Record{
		AccessToken:   "tok",
		RefreshToken:  "r1",
		ExpiryEpochMs: time.Now().Add(time.Hour).UnixMilli(),
		ResourceURL:   "api.example.com",
	})
	m := NewManager(Options{Path: path})
	assert.Equal(t, "https://api.example.com", m.GetBaseURL())
}

func TestGetBaseURL_KeepsExistingScheme(t *testing.T) {
	path := writeCreds(t, Record{
		AccessToken:   "tok",
		RefreshToken:  "r1",
		ExpiryEpochMs: time.Now().Add(time.Hour).UnixMilli(),
		ResourceURL:   "http://localhost:9999",
	})
	m := NewManager(Options{Path: path})
	assert.Equal(t, "http://localhost:9999", m.GetBaseURL())
}

func TestGetStatus(t *testing.T) {
	t.Run("no credentials", func(t *testing.T) {
		m := NewManager(Options{Path: filepath.Join(t.TempDir(), "missing.json")})
		status := m.GetStatus()
		assert.False(t, status.HasCredentials)
		assert.False(t, status.IsExpired)
	})

	t.Run("expired", func(t *testing.T) {
		path := writeCreds(t, Record{
			AccessToken:   "tok",
			RefreshToken:  "r1",
			ExpiryEpochMs: time.Now().Add(-time.Hour).UnixMilli(),
			ResourceURL:   "api.example.com",
		})
		m := NewManager(Options{Path: path})
		status := m.GetStatus()
		assert.True(t, status.HasCredentials)
		assert.True(t, status.IsExpired)
		assert.NotEmpty(t, status.ExpiryISO)
		assert.Equal(t, "api.example.com", status.ResourceURL)
	})
}
