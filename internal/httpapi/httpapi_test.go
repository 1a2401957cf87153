package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencc/proxy/internal/apierrors"
	"github.com/opencc/proxy/internal/convert"
	"github.com/opencc/proxy/internal/metrics"
	"github.com/opencc/proxy/internal/protocola"
	"github.com/opencc/proxy/internal/protocolb"
	"github.com/opencc/proxy/internal/provider"
	"github.com/opencc/proxy/internal/providerfactory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProvider is a Protocol-B backend with scripted responses.
type fakeProvider struct {
	unary     *protocolb.Response
	unaryErr  error
	streamSSE string
	models    []provider.ModelInfo
	authErr   error

	gotRequest *protocolb.Request
}

func (f *fakeProvider) Initialize(ctx context.Context) error { return nil }

func (f *fakeProvider) SendRequest(ctx context.Context, req *protocolb.Request) (*protocolb.Response, error) {
	f.gotRequest = req
	if f.unaryErr != nil {
		return nil, f.unaryErr
	}
	return f.unary, nil
}

func (f *fakeProvider) SendStreamRequest(ctx context.Context, req *protocolb.Request) (io.ReadCloser, error) {
	f.gotRequest = req
	return io.NopCloser(strings.NewReader(f.streamSSE)), nil
}

func (f *fakeProvider) GetModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return f.models, nil
}

func (f *fakeProvider) TestConnection(ctx context.Context) (provider.HealthStatus, error) {
	return provider.HealthStatus{Healthy: true}, nil
}

func (f *fakeProvider) GetAuthHeaders(ctx context.Context) (map[string]string, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return map[string]string{"Authorization": "Bearer x"}, nil
}

func (f *fakeProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsStreaming: true, SupportsTools: true}
}

func (f *fakeProvider) Handle() provider.Handle {
	return provider.Handle{Name: "fake", Protocol: provider.ProtocolB}
}

func (f *fakeProvider) Dispose() error { return nil }

func newTestServer(t *testing.T, fake provider.Provider) *gin.Engine {
	t.Helper()
	factory := providerfactory.New()
	factory.Register("test", func() (provider.Provider, error) { return fake, nil })
	s := New(Config{DefaultMode: "test"}, factory, metrics.NewRecorder(16))
	return Router(s)
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMessages_UnaryText(t *testing.T) {
	// Unary text round trip through the full router.
	fake := &fakeProvider{
		unary: &protocolb.Response{
			Choices: []protocolb.Choice{{Message: protocolb.Message{Role: protocolb.RoleAssistant, Content: "hello"}, FinishReason: "stop"}},
			Usage:   protocolb.Usage{PromptTokens: 3, CompletionTokens: 1},
		},
	}
	router := newTestServer(t, fake)

	w := doJSON(router, "POST", "/v1/messages",
		`{"model":"claude-3-sonnet-20240229","max_tokens":50,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp protocola.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "claude-3-sonnet-20240229", resp.Model, "original model echoed, not the mapped one")
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, protocola.StopReasonEndTurn, resp.StopReason)
	assert.Equal(t, 3, resp.Usage.InputTokens)
	assert.Equal(t, 1, resp.Usage.OutputTokens)
	assert.True(t, strings.HasPrefix(resp.ID, "msg_"))
}

func TestMessages_EmptyMessagesIs400(t *testing.T) {
	// Empty messages reject with a 400 naming the field.
	router := newTestServer(t, &fakeProvider{})

	w := doJSON(router, "POST", "/v1/messages",
		`{"model":"claude-3-sonnet-20240229","max_tokens":50,"messages":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body protocola.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Type)
	assert.Equal(t, "invalid_request_error", body.Error.Type)
	assert.Contains(t, body.Error.Message, "messages")
}

func TestMessages_MalformedJSONIs400(t *testing.T) {
	router := newTestServer(t, &fakeProvider{})
	w := doJSON(router, "POST", "/v1/messages", `{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body protocola.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request_error", body.Error.Type)
}

func TestMessages_UpstreamAuthErrorMapsTo401(t *testing.T) {
	fake := &fakeProvider{unaryErr: apierrors.New(apierrors.KindAuthentication, "bad key")}
	router := newTestServer(t, fake)

	w := doJSON(router, "POST", "/v1/messages",
		`{"model":"m","max_tokens":5,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var body protocola.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "authentication_error", body.Error.Type)
	assert.Equal(t, "bad key", body.Error.Message)
}

func TestMessages_StreamHappyPath(t *testing.T) {
	// Streaming happy path through the full router.
	fake := &fakeProvider{
		streamSSE: "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hel\"}}]}\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"completion_tokens\":2}}\n" +
			"data: [DONE]\n",
	}
	router := newTestServer(t, fake)

	w := doJSON(router, "POST", "/v1/messages",
		`{"model":"claude-3-sonnet-20240229","max_tokens":50,"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	out := w.Body.String()
	assert.True(t, strings.HasPrefix(out, "event: connected\ndata: {\"type\":\"ping\"}\n\n"))
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))

	var types []string
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "data: {") {
			continue
		}
		var ev struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		"ping", "message_start", "content_block_start",
		"content_block_delta", "content_block_delta",
		"content_block_stop", "message_delta", "message_stop",
	}, types)

	require.NotNil(t, fake.gotRequest)
	assert.True(t, fake.gotRequest.Stream)
}

func TestModels_ListsUpstreamAndAliases(t *testing.T) {
	fake := &fakeProvider{models: []provider.ModelInfo{{ID: "gpt-4o", Created: 1715367049, OwnedBy: "openai"}}}
	router := newTestServerWithTable(t, fake)
	req := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "list", body.Object)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "gpt-4o", body.Data[0].ID)
	assert.Equal(t, "model", body.Data[0].Object)
	assert.Equal(t, "claude-3-sonnet-20240229", body.Data[1].ID)
	assert.Equal(t, "opencc", body.Data[1].OwnedBy)
}

func newTestServerWithTable(t *testing.T, fake provider.Provider) *gin.Engine {
	t.Helper()
	factory := providerfactory.New()
	factory.Register("test", func() (provider.Provider, error) { return fake, nil })
	s := New(Config{
		DefaultMode: "test",
		ModelTable: convert.ModelTable{
			{Pattern: "claude-3-sonnet-20240229", Target: "gpt-4o"},
		},
	}, factory, nil)
	return Router(s)
}

func TestHealth_Healthy(t *testing.T) {
	router := newTestServer(t, &fakeProvider{})
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ok", body.Checks["api_server"])
	assert.Equal(t, "ok", body.Checks["credentials"])
}

func TestHealth_DegradedWhenAuthUnavailable(t *testing.T) {
	fake := &fakeProvider{authErr: apierrors.New(apierrors.KindAuthentication, "no key")}
	router := newTestServer(t, fake)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
}

func TestReadyAndLive(t *testing.T) {
	router := newTestServer(t, &fakeProvider{})
	for _, path := range []string{"/health/ready", "/health/live"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRoot_ReturnsServiceName(t *testing.T) {
	router := newTestServer(t, &fakeProvider{})
	for _, method := range []string{"GET", "POST", "DELETE"} {
		req := httptest.NewRequest(method, "/", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OpenCC", w.Body.String())
	}
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	router := newTestServer(t, &fakeProvider{})

	req := httptest.NewRequest("GET", "/health/live", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	req = httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-Id", "client-chosen")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "client-chosen", w.Header().Get("X-Request-Id"))
}

// fakeNative is a Protocol-A passthrough backend.
type fakeNative struct {
	fakeProvider
	nativeResp *protocola.Response
	nativeSSE  string
}

func (f *fakeNative) Handle() provider.Handle {
	return provider.Handle{Name: "native", Protocol: provider.ProtocolANative}
}

func (f *fakeNative) SendNative(ctx context.Context, req *protocola.Request) (*protocola.Response, error) {
	return f.nativeResp, nil
}

func (f *fakeNative) SendNativeStream(ctx context.Context, req *protocola.Request) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.nativeSSE)), nil
}

func TestMessages_NativePassthroughUnary(t *testing.T) {
	fake := &fakeNative{
		nativeResp: &protocola.Response{
			ID:         "msg_upstream",
			Type:       "message",
			Role:       protocola.RoleAssistant,
			Model:      "claude-3-sonnet-20240229",
			Content:    []protocola.ContentBlock{{Type: "text", Text: "hello"}},
			StopReason: protocola.StopReasonEndTurn,
			Usage:      protocola.Usage{InputTokens: 3, OutputTokens: 1},
		},
	}
	router := newTestServer(t, fake)

	w := doJSON(router, "POST", "/v1/messages",
		`{"model":"claude-3-sonnet-20240229","max_tokens":50,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp protocola.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "msg_upstream", resp.ID, "passthrough relays the upstream id untouched")
	assert.Equal(t, "hello", resp.Content[0].Text)
}

func TestMessages_NativePassthroughStillValidates(t *testing.T) {
	router := newTestServer(t, &fakeNative{})
	w := doJSON(router, "POST", "/v1/messages",
		`{"model":"claude-3-sonnet-20240229","max_tokens":50,"messages":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessages_NativePassthroughStreamRelaysVerbatim(t *testing.T) {
	upstream := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	fake := &fakeNative{nativeSSE: upstream}
	router := newTestServer(t, fake)

	w := doJSON(router, "POST", "/v1/messages",
		`{"model":"claude-3-sonnet-20240229","max_tokens":50,"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.True(t, strings.HasPrefix(out, "event: connected\ndata: {\"type\":\"ping\"}\n\n"))
	assert.Contains(t, out, upstream)
}

func TestCORS_Preflight(t *testing.T) {
	router := newTestServer(t, &fakeProvider{})
	req := httptest.NewRequest("OPTIONS", "/v1/messages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
