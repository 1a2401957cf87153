// Package openaiproto implements the Protocol-B upstream backend: any API
// speaking the OpenAI Chat Completions wire shape, which covers OpenAI
// itself, Azure OpenAI deployments, and OpenAI-compatible third parties.
package openaiproto

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/opencc/proxy/internal/apierrors"
	"github.com/opencc/proxy/internal/httpclient"
	"github.com/opencc/proxy/internal/protocolb"
	"github.com/opencc/proxy/internal/provider"
	"github.com/opencc/proxy/internal/retry"
)

// Config assembles one backend from its auth and endpoint providers.
type Config struct {
	Name         string
	Version      string
	Auth         provider.AuthProvider
	Endpoints    provider.ConfigProvider
	Capabilities provider.Capabilities
	// HTTPClient overrides the transport, for tests.
	HTTPClient *http.Client
}

// Provider sends Protocol-B requests to one configured upstream. Instance
// state is immutable after Initialize; credential rotation happens inside
// the AuthProvider.
type Provider struct {
	cfg     Config
	client  *httpclient.Client
	http    *http.Client
	dispose sync.Once
}

// New builds a Provider. Initialize must run before first use.
func New(cfg Config) *Provider {
	hc := cfg.HTTPClient
	return &Provider{
		cfg:    cfg,
		client: httpclient.New(cfg.Endpoints.BaseURL(), hc),
		http:   hc,
	}
}

func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.cfg.Endpoints.Validate(); err != nil {
		return err
	}
	if err := p.cfg.Auth.Healthy(ctx); err != nil {
		return apierrors.Wrap(apierrors.KindProviderInit, "auth unavailable for "+p.cfg.Name, err)
	}
	return nil
}

func (p *Provider) Handle() provider.Handle {
	endpoints := map[string]provider.Endpoint{}
	for _, kind := range []string{provider.EndpointChat, provider.EndpointModels} {
		if e, ok := p.cfg.Endpoints.Endpoint(kind); ok {
			endpoints[kind] = e
		}
	}
	return provider.Handle{
		Name:      p.cfg.Name,
		Protocol:  provider.ProtocolB,
		Version:   p.cfg.Version,
		BaseURL:   p.cfg.Endpoints.BaseURL(),
		Endpoints: endpoints,
	}
}

func (p *Provider) Capabilities() provider.Capabilities {
	return p.cfg.Capabilities
}

func (p *Provider) GetAuthHeaders(ctx context.Context) (map[string]string, error) {
	headers, err := p.cfg.Auth.AuthHeaders(ctx)
	if err != nil {
		return nil, err
	}
	if org := p.cfg.Endpoints.OrgID(); org != "" {
		headers["OpenAI-Organization"] = org
	}
	return headers, nil
}

func (p *Provider) SendRequest(ctx context.Context, req *protocolb.Request) (*protocolb.Response, error) {
	endpoint, headers, err := p.prepare(ctx, provider.EndpointChat)
	if err != nil {
		return nil, err
	}

	unary := *req
	unary.Stream = false

	var out protocolb.Response
	if err := p.client.SendJSON(ctx, endpoint.Method, endpoint.Path, headers, &unary, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Provider) SendStreamRequest(ctx context.Context, req *protocolb.Request) (io.ReadCloser, error) {
	if !p.cfg.Capabilities.SupportsStreaming {
		return nil, apierrors.New(apierrors.KindNotSupported, p.cfg.Name+" does not support streaming")
	}

	endpoint, headers, err := p.prepare(ctx, provider.EndpointChat)
	if err != nil {
		return nil, err
	}

	streamed := *req
	streamed.Stream = true

	resp, err := p.client.Send(ctx, endpoint.Method, endpoint.Path, headers, &streamed)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// modelList is the Protocol-B GET /models body.
type modelList struct {
	Data []struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

func (p *Provider) GetModels(ctx context.Context) ([]provider.ModelInfo, error) {
	endpoint, headers, err := p.prepare(ctx, provider.EndpointModels)
	if err != nil {
		return nil, err
	}

	var list modelList
	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		return p.client.SendJSON(ctx, endpoint.Method, endpoint.Path, headers, nil, &list)
	})
	if err != nil {
		return nil, err
	}

	models := make([]provider.ModelInfo, len(list.Data))
	for i, m := range list.Data {
		owner := m.OwnedBy
		if owner == "" {
			owner = p.cfg.Name
		}
		models[i] = provider.ModelInfo{ID: m.ID, Created: m.Created, OwnedBy: owner}
	}
	return models, nil
}

func (p *Provider) TestConnection(ctx context.Context) (provider.HealthStatus, error) {
	if _, err := p.GetModels(ctx); err != nil {
		return provider.HealthStatus{Healthy: false, Detail: err.Error()}, err
	}
	return provider.HealthStatus{Healthy: true, Detail: "ok"}, nil
}

// Dispose releases pooled connections. Safe to call more than once.
func (p *Provider) Dispose() error {
	p.dispose.Do(func() {
		if p.http != nil {
			p.http.CloseIdleConnections()
		}
	})
	return nil
}

func (p *Provider) prepare(ctx context.Context, kind string) (provider.Endpoint, map[string]string, error) {
	endpoint, ok := p.cfg.Endpoints.Endpoint(kind)
	if !ok {
		return provider.Endpoint{}, nil, apierrors.New(apierrors.KindNotSupported,
			p.cfg.Name+" has no "+kind+" endpoint")
	}
	headers, err := p.GetAuthHeaders(ctx)
	if err != nil {
		return provider.Endpoint{}, nil, err
	}
	return endpoint, headers, nil
}
