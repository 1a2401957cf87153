package provider

import (
	"strings"

	"github.com/opencc/proxy/internal/apierrors"
)

// EndpointKind values known to every backend's endpoint table.
const (
	EndpointChat   = "chat"
	EndpointModels = "models"
)

// EndpointConfig is the standard ConfigProvider: a base URL plus a static
// endpoint table, optionally carrying an upstream organization id.
type EndpointConfig struct {
	Base      string
	Org       string
	Endpoints map[string]Endpoint
}

func (c EndpointConfig) BaseURL() string { return c.Base }
func (c EndpointConfig) OrgID() string   { return c.Org }

func (c EndpointConfig) Endpoint(kind string) (Endpoint, bool) {
	e, ok := c.Endpoints[kind]
	return e, ok
}

func (c EndpointConfig) Validate() error {
	if !strings.HasPrefix(c.Base, "http://") && !strings.HasPrefix(c.Base, "https://") {
		return apierrors.New(apierrors.KindProviderInit, "base URL must include a scheme: "+c.Base)
	}
	if _, ok := c.Endpoints[EndpointChat]; !ok {
		return apierrors.New(apierrors.KindProviderInit, "endpoint table is missing the chat endpoint")
	}
	return nil
}
