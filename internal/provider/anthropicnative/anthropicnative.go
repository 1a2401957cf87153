// Package anthropicnative implements the passthrough backend for an
// upstream that already speaks the Anthropic Messages shape. Both
// converters are skipped: unary bodies are relayed as Protocol A and the
// streaming path hands the upstream SSE bytes through verbatim.
package anthropicnative

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/opencc/proxy/internal/apierrors"
	"github.com/opencc/proxy/internal/credentials"
	"github.com/opencc/proxy/internal/httpclient"
	"github.com/opencc/proxy/internal/protocola"
	"github.com/opencc/proxy/internal/protocolb"
	"github.com/opencc/proxy/internal/provider"
)

// apiVersion is the Messages API version header value sent upstream.
const apiVersion = "2023-06-01"

// Config assembles one native backend.
type Config struct {
	Name    string
	BaseURL string
	Auth    provider.AuthProvider
	// Creds, when set, reports OAuth credential health on /health and may
	// override BaseURL from the record's resource_url.
	Creds *credentials.Manager
	// HTTPClient overrides the transport, for tests.
	HTTPClient *http.Client
}

// Provider relays Protocol-A requests to a Messages-shaped upstream.
type Provider struct {
	cfg     Config
	client  *httpclient.Client
	http    *http.Client
	dispose sync.Once
}

var endpoints = map[string]provider.Endpoint{
	provider.EndpointChat:   {Path: "/v1/messages", Method: "POST"},
	provider.EndpointModels: {Path: "/v1/models", Method: "GET"},
}

// New builds a Provider. When cfg.Creds holds a resource URL it wins over
// cfg.BaseURL, matching the credential record's base-URL derivation rule.
func New(cfg Config) *Provider {
	base := cfg.BaseURL
	if cfg.Creds != nil {
		if u := cfg.Creds.GetBaseURL(); u != "" {
			base = u
		}
	}
	if base == "" {
		base = "https://api.anthropic.com"
	}
	cfg.BaseURL = base
	return &Provider{
		cfg:    cfg,
		client: httpclient.New(base, cfg.HTTPClient),
		http:   cfg.HTTPClient,
	}
}

func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.cfg.Auth.Healthy(ctx); err != nil {
		return apierrors.Wrap(apierrors.KindProviderInit, "auth unavailable for "+p.cfg.Name, err)
	}
	return nil
}

func (p *Provider) Handle() provider.Handle {
	table := make(map[string]provider.Endpoint, len(endpoints))
	for k, v := range endpoints {
		table[k] = v
	}
	return provider.Handle{
		Name:      p.cfg.Name,
		Protocol:  provider.ProtocolANative,
		Version:   apiVersion,
		BaseURL:   p.cfg.BaseURL,
		Endpoints: table,
	}
}

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsStreaming: true,
		SupportsTools:     true,
		SupportsVision:    true,
		MaxTokens:         8192,
		MaxContextLength:  200000,
		ProtocolVersion:   apiVersion,
	}
}

func (p *Provider) GetAuthHeaders(ctx context.Context) (map[string]string, error) {
	headers, err := p.cfg.Auth.AuthHeaders(ctx)
	if err != nil {
		return nil, err
	}
	headers["anthropic-version"] = apiVersion
	return headers, nil
}

// SendRequest and SendStreamRequest exist to satisfy the Protocol-B send
// surface; a native backend is only reachable through the Passthrough
// methods below, so they reject.
func (p *Provider) SendRequest(ctx context.Context, req *protocolb.Request) (*protocolb.Response, error) {
	return nil, apierrors.New(apierrors.KindNotSupported, p.cfg.Name+" speaks Protocol A; use the passthrough path")
}

func (p *Provider) SendStreamRequest(ctx context.Context, req *protocolb.Request) (io.ReadCloser, error) {
	return nil, apierrors.New(apierrors.KindNotSupported, p.cfg.Name+" speaks Protocol A; use the passthrough path")
}

func (p *Provider) SendNative(ctx context.Context, req *protocola.Request) (*protocola.Response, error) {
	headers, err := p.GetAuthHeaders(ctx)
	if err != nil {
		return nil, err
	}

	unary := *req
	unary.Stream = false

	chat := endpoints[provider.EndpointChat]
	var out protocola.Response
	if err := p.client.SendJSON(ctx, chat.Method, chat.Path, headers, &unary, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Provider) SendNativeStream(ctx context.Context, req *protocola.Request) (io.ReadCloser, error) {
	headers, err := p.GetAuthHeaders(ctx)
	if err != nil {
		return nil, err
	}

	streamed := *req
	streamed.Stream = true

	chat := endpoints[provider.EndpointChat]
	resp, err := p.client.Send(ctx, chat.Method, chat.Path, headers, &streamed)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (p *Provider) GetModels(ctx context.Context) ([]provider.ModelInfo, error) {
	headers, err := p.GetAuthHeaders(ctx)
	if err != nil {
		return nil, err
	}

	models := endpoints[provider.EndpointModels]
	var list struct {
		Data []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
		} `json:"data"`
	}
	if err := p.client.SendJSON(ctx, models.Method, models.Path, headers, nil, &list); err != nil {
		return nil, err
	}

	out := make([]provider.ModelInfo, len(list.Data))
	for i, m := range list.Data {
		out[i] = provider.ModelInfo{ID: m.ID, OwnedBy: p.cfg.Name}
	}
	return out, nil
}

func (p *Provider) TestConnection(ctx context.Context) (provider.HealthStatus, error) {
	if err := p.cfg.Auth.Healthy(ctx); err != nil {
		return provider.HealthStatus{Healthy: false, Detail: err.Error()}, err
	}
	return provider.HealthStatus{Healthy: true, Detail: "ok"}, nil
}

func (p *Provider) Dispose() error {
	p.dispose.Do(func() {
		if p.http != nil {
			p.http.CloseIdleConnections()
		}
	})
	return nil
}

// CredentialStatus exposes the OAuth credential health for /health. A
// backend that authenticates with a static key reports HasCredentials
// from its auth provider's health and never reports expiry.
func (p *Provider) CredentialStatus() credentials.Status {
	if p.cfg.Creds == nil {
		return credentials.Status{HasCredentials: p.cfg.Auth.Healthy(context.Background()) == nil}
	}
	return p.cfg.Creds.GetStatus()
}
