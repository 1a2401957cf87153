package provider

import (
	"context"

	"github.com/opencc/proxy/internal/apierrors"
)

// StaticAuth is an AuthProvider backed by a fixed header value: a bearer
// API key, an Azure api-key header, or an Anthropic x-api-key.
type StaticAuth struct {
	Header string
	Value  string
}

// Bearer builds the common `Authorization: Bearer <key>` StaticAuth. An
// empty key yields an empty Value, so the result reports unhealthy.
func Bearer(key string) StaticAuth {
	if key == "" {
		return StaticAuth{Header: "Authorization"}
	}
	return StaticAuth{Header: "Authorization", Value: "Bearer " + key}
}

func (a StaticAuth) AuthHeaders(ctx context.Context) (map[string]string, error) {
	if err := a.Healthy(ctx); err != nil {
		return nil, err
	}
	return map[string]string{a.Header: a.Value}, nil
}

func (a StaticAuth) Healthy(ctx context.Context) error {
	if a.Value == "" {
		return apierrors.New(apierrors.KindAuthentication, "no API key configured")
	}
	return nil
}

// TokenAuth is an AuthProvider that fetches a fresh token per request, for
// backends whose credentials rotate (the OAuth modes). Vend is expected to
// refresh as needed and only return tokens valid for at least the refresh
// safety margin.
type TokenAuth struct {
	Header string
	Prefix string
	Vend   func(ctx context.Context) (string, error)
}

func (a TokenAuth) AuthHeaders(ctx context.Context) (map[string]string, error) {
	token, err := a.Vend(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{a.Header: a.Prefix + token}, nil
}

func (a TokenAuth) Healthy(ctx context.Context) error {
	_, err := a.Vend(ctx)
	return err
}
