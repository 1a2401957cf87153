// Package credentials is the OAuth credential store: persistent token
// storage, proactive refresh with a safety margin, and concurrent-safe
// single-flight token vend.
package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opencc/proxy/internal/apierrors"
	"github.com/opencc/proxy/internal/logging"
)

// refreshMargin is subtracted from the upstream expiry so every vended
// token is valid for at least one minute.
const refreshMargin = 60 * time.Second

// defaultRefreshTimeout bounds the refresh HTTP call. Deliberately
// shorter than the upstream chat request timeout.
const defaultRefreshTimeout = 15 * time.Second

// Record is the persisted credential shape.
type Record struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	ExpiryEpochMs int64  `json:"expiry_epoch_ms"`
	ResourceURL   string `json:"resource_url,omitempty"`
}

// Stale reports whether the record's token has passed its absolute expiry.
func (r *Record) Stale(now time.Time) bool {
	return now.UnixMilli() >= r.ExpiryEpochMs
}

// Status is the health summary surfaced by GET /health.
type Status struct {
	HasCredentials bool   `json:"has_credentials"`
	IsExpired      bool   `json:"is_expired"`
	ExpiryISO      string `json:"expiry,omitempty"`
	ResourceURL    string `json:"resource_url,omitempty"`
}

// Options configures a Manager.
type Options struct {
	// Path overrides the credential file location. Empty means $CREDS_PATH,
	// falling back to <home>/.<provider>/oauth_creds.json.
	Path string
	// ProviderDir names the dot-directory used for the default path.
	ProviderDir string
	// ClientID is sent on every refresh request.
	ClientID string
	// RefreshURL is the OAuth token endpoint.
	RefreshURL string
	// HTTPClient overrides the refresh client; nil gets a client with the
	// default refresh timeout.
	HTTPClient *http.Client
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager exclusively owns one credential record. The record is replaced
// wholesale, never mutated in place; concurrent callers that find a stale
// token share one in-flight refresh through sf.
type Manager struct {
	path       string
	clientID   string
	refreshURL string
	httpClient *http.Client
	now        func() time.Time

	sf  singleflight.Group
	rec atomic.Pointer[Record]
}

// NewManager builds a Manager and attempts an initial load. A load
// failure is non-fatal here: it is logged and resurfaces only when a
// token is actually demanded.
func NewManager(opts Options) *Manager {
	m := &Manager{
		path:       resolvePath(opts),
		clientID:   opts.ClientID,
		refreshURL: opts.RefreshURL,
		httpClient: opts.HTTPClient,
		now:        opts.Now,
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: defaultRefreshTimeout}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if err := m.load(); err != nil {
		logging.Warnf("credentials: initial load failed (deferred until first use): %v", err)
	}
	return m
}

func resolvePath(opts Options) string {
	if opts.Path != "" {
		return opts.Path
	}
	if env := os.Getenv("CREDS_PATH"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := opts.ProviderDir
	if dir == "" {
		dir = "opencc"
	}
	return filepath.Join(home, "."+dir, "oauth_creds.json")
}

func (m *Manager) load() error {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	m.rec.Store(&rec)
	return nil
}

// GetValidAccessToken returns a token guaranteed fresh (expiry strictly in
// the future, with the one-minute margin applied at refresh time).
// Concurrent callers observing a stale token coalesce onto a single
// outgoing refresh request; a refresh failure propagates to all waiters.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	rec := m.rec.Load()
	if rec == nil {
		return "", apierrors.New(apierrors.KindAuthentication, "no credentials loaded from "+m.path)
	}
	if !rec.Stale(m.now()) {
		return rec.AccessToken, nil
	}

	v, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		// A waiter that queued behind the winning refresh sees the fresh
		// record here and skips a second round trip.
		if cur := m.rec.Load(); cur != nil && !cur.Stale(m.now()) {
			return cur.AccessToken, nil
		}
		fresh, err := m.refresh(ctx)
		if err != nil {
			return nil, err
		}
		if fresh.Stale(m.now()) {
			return nil, apierrors.New(apierrors.KindAuthentication, "refreshed token expires within the safety margin")
		}
		m.rec.Store(fresh)
		if err := m.persist(fresh); err != nil {
			logging.Warnf("credentials: persist after refresh failed: %v", err)
		}
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (*Record, error) {
	prev := m.rec.Load()
	if prev == nil || prev.RefreshToken == "" {
		return nil, apierrors.New(apierrors.KindAuthentication, "no refresh token available")
	}

	form := url.Values{}
	form.Set("client_id", m.clientID)
	form.Set("refresh_token", prev.RefreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.refreshURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindAuthentication, "failed to build refresh request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierrors.Wrap(apierrors.KindTimeout, "credential refresh timed out", err)
		}
		return nil, apierrors.Wrap(apierrors.KindAuthentication, "credential refresh request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierrors.New(apierrors.KindAuthentication,
			"credential refresh rejected with HTTP "+resp.Status)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		ResourceURL  string `json:"resource_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apierrors.Wrap(apierrors.KindAuthentication, "failed to decode refresh response", err)
	}

	fresh := &Record{
		AccessToken:   body.AccessToken,
		RefreshToken:  body.RefreshToken,
		ExpiryEpochMs: m.now().Add(time.Duration(body.ExpiresIn)*time.Second - refreshMargin).UnixMilli(),
		ResourceURL:   body.ResourceURL,
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = prev.RefreshToken
	}
	if fresh.ResourceURL == "" {
		fresh.ResourceURL = prev.ResourceURL
	}
	return fresh, nil
}

// persist writes the record atomically (temp file then rename), readable
// only by the owning user, creating parent directories as needed.
func (m *Manager) persist(rec *Record) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".oauth_creds-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, m.path)
}

// GetBaseURL derives the upstream base URL from the record's resource_url,
// prefixing https:// when no scheme is present. Empty when no credentials
// are held.
func (m *Manager) GetBaseURL() string {
	rec := m.rec.Load()
	if rec == nil || rec.ResourceURL == "" {
		return ""
	}
	u := rec.ResourceURL
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	return u
}

// GetStatus summarizes credential health for the /health endpoint.
func (m *Manager) GetStatus() Status {
	rec := m.rec.Load()
	if rec == nil {
		return Status{}
	}
	return Status{
		HasCredentials: true,
		IsExpired:      rec.Stale(m.now()),
		ExpiryISO:      time.UnixMilli(rec.ExpiryEpochMs).UTC().Format(time.RFC3339),
		ResourceURL:    rec.ResourceURL,
	}
}

// Path returns the resolved credential file location, for startup logging.
func (m *Manager) Path() string {
	return m.path
}
