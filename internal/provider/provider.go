// Package provider defines the capability surface every upstream backend
// implements: initialization, unary and streaming sends, model listing,
// health probing, auth headers, disposal, and a fixed capability
// descriptor.
package provider

import (
	"context"
	"io"

	"github.com/opencc/proxy/internal/protocola"
	"github.com/opencc/proxy/internal/protocolb"
)

// Protocol identifies the wire shape an upstream backend speaks.
type Protocol string

const (
	// ProtocolB is the OpenAI Chat Completions shape; requests go through
	// the converters.
	ProtocolB Protocol = "protocol-b"
	// ProtocolANative marks an upstream that already speaks the Anthropic
	// Messages shape; the converters become a passthrough.
	ProtocolANative Protocol = "protocol-a-native"
)

// Handle is the immutable descriptor of a constructed provider: name,
// protocol, version, base URL and endpoint table.
type Handle struct {
	Name      string
	Protocol  Protocol
	Version   string
	BaseURL   string
	Endpoints map[string]Endpoint
}

// Capabilities reports what an upstream backend supports, echoed into
// internal httpapi decisions (e.g. whether to project image blocks).
type Capabilities struct {
	SupportsStreaming bool
	SupportsTools     bool
	SupportsVision    bool
	SupportedModels   []string
	MaxTokens         int
	MaxContextLength  int
	ProtocolVersion   string
}

// ModelInfo is one entry returned by GetModels, shaped for GET /v1/models.
type ModelInfo struct {
	ID      string
	Created int64
	OwnedBy string
}

// HealthStatus is the result of TestConnection.
type HealthStatus struct {
	Healthy bool
	Detail  string
}

// Endpoint is one entry of a provider's endpoint table: a symbolic kind
// ("chat", "models") mapped to a path and HTTP method.
type Endpoint struct {
	Path   string
	Method string
}

// Provider is one upstream backend capable of speaking Protocol B (or, for
// the native backend, Protocol A passthrough) to a concrete API.
type Provider interface {
	// Initialize prepares the provider for use (e.g. validating credentials
	// are obtainable). Called once by the factory before caching.
	Initialize(ctx context.Context) error

	// SendRequest performs a unary chat completion.
	SendRequest(ctx context.Context, req *protocolb.Request) (*protocolb.Response, error)

	// SendStreamRequest performs a streaming chat completion, returning the
	// raw SSE body. The caller owns closing it.
	SendStreamRequest(ctx context.Context, req *protocolb.Request) (io.ReadCloser, error)

	// GetModels lists the models this provider exposes.
	GetModels(ctx context.Context) ([]ModelInfo, error)

	// TestConnection performs a cheap health probe.
	TestConnection(ctx context.Context) (HealthStatus, error)

	// GetAuthHeaders returns the auth headers to attach to every request.
	// May perform a credential refresh.
	GetAuthHeaders(ctx context.Context) (map[string]string, error)

	// Capabilities reports the provider's fixed capability descriptor.
	Capabilities() Capabilities

	// Handle returns the immutable descriptor built at construction.
	Handle() Handle

	// Dispose releases any held resources. Idempotent: calling it twice
	// must be safe.
	Dispose() error
}

// Passthrough is implemented by providers whose upstream already speaks
// Protocol A. The edge skips both converters and relays the upstream SSE
// bytes verbatim on the streaming path.
type Passthrough interface {
	SendNative(ctx context.Context, req *protocola.Request) (*protocola.Response, error)
	SendNativeStream(ctx context.Context, req *protocola.Request) (io.ReadCloser, error)
}

// AuthProvider produces the per-request auth headers for one backend and
// reports whether usable credentials are currently held. Implementations
// backed by an OAuth credential store may refresh on demand.
type AuthProvider interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
	Healthy(ctx context.Context) error
}

// ConfigProvider carries the endpoint table and base URL for one backend.
type ConfigProvider interface {
	BaseURL() string
	Endpoint(kind string) (Endpoint, bool)
	OrgID() string
	Validate() error
}
