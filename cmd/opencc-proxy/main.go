// Command opencc-proxy runs the protocol-translation proxy: Anthropic
// Messages in, OpenAI Chat Completions (or a native Messages upstream)
// out. Configuration is environment-driven with flag overrides.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opencc/proxy/internal/convert"
	"github.com/opencc/proxy/internal/credentials"
	"github.com/opencc/proxy/internal/httpapi"
	"github.com/opencc/proxy/internal/logging"
	"github.com/opencc/proxy/internal/metrics"
	"github.com/opencc/proxy/internal/provider"
	"github.com/opencc/proxy/internal/provider/anthropicnative"
	"github.com/opencc/proxy/internal/provider/openaiproto"
	"github.com/opencc/proxy/internal/providerfactory"
)

// anthropicOAuthTokenURL is the refresh endpoint for the anthropic-oauth
// configuration mode.
const anthropicOAuthTokenURL = "https://console.anthropic.com/v1/oauth/token"

func main() {
	port := flag.String("port", envOr("PORT", "8082"), "listen port")
	mode := flag.String("mode", envOr("OPENCC_MODE", ""), "default configuration mode")
	flag.Parse()

	defer logging.Sync()

	factory := providerfactory.New()
	defaultMode := registerProviders(factory, *mode)
	if defaultMode == "" {
		logging.Errorf("no provider configured: set OPENAI_API_KEY, AZURE_OPENAI_API_KEY, ANTHROPIC_API_KEY, or CREDS_PATH")
		os.Exit(1)
	}

	server := httpapi.New(httpapi.Config{
		DefaultMode: defaultMode,
		ModelTable:  modelTableFromEnv(),
	}, factory, metrics.NewRecorder(512))

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           httpapi.Router(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logging.Infof("opencc-proxy listening on :%s (default mode %q)", *port, defaultMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("shutdown: %v", err)
	}
	factory.Dispose()
}

// registerProviders installs a builder for every mode the environment can
// satisfy and returns the default mode: the explicit preference when set,
// otherwise the first configured mode in a fixed precedence order.
func registerProviders(factory *providerfactory.Factory, preferred string) string {
	var available []string

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		org := os.Getenv("OPENAI_ORG_ID")
		factory.Register("openai", func() (provider.Provider, error) {
			return openaiproto.New(openaiproto.OpenAIConfig(key, org)), nil
		})
		available = append(available, "openai")
	}

	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
		deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		apiVersion := envOr("AZURE_OPENAI_API_VERSION", "2024-06-01")
		factory.Register("azure-openai", func() (provider.Provider, error) {
			return openaiproto.New(openaiproto.AzureConfig(endpoint, deployment, apiVersion, key)), nil
		})
		available = append(available, "azure-openai")
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		factory.Register("anthropic-apikey", func() (provider.Provider, error) {
			return anthropicnative.New(anthropicnative.Config{
				Name: "anthropic-apikey",
				Auth: provider.StaticAuth{Header: "x-api-key", Value: key},
			}), nil
		})
		available = append(available, "anthropic-apikey")
	}

	if credsConfigured() {
		factory.Register("anthropic-oauth", func() (provider.Provider, error) {
			creds := credentials.NewManager(credentials.Options{
				ProviderDir: "anthropic",
				ClientID:    os.Getenv("ANTHROPIC_OAUTH_CLIENT_ID"),
				RefreshURL:  envOr("ANTHROPIC_OAUTH_TOKEN_URL", anthropicOAuthTokenURL),
			})
			return anthropicnative.New(anthropicnative.Config{
				Name:  "anthropic-oauth",
				Creds: creds,
				Auth: provider.TokenAuth{
					Header: "Authorization",
					Prefix: "Bearer ",
					Vend:   creds.GetValidAccessToken,
				},
			}), nil
		})
		available = append(available, "anthropic-oauth")
	}

	if preferred != "" {
		return preferred
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

// credsConfigured reports whether an OAuth credential file is reachable at
// the configured or default path. Load failures stay non-fatal; this only
// decides whether the mode is offered at all.
func credsConfigured() bool {
	path := os.Getenv("CREDS_PATH")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		path = home + "/.anthropic/oauth_creds.json"
	}
	_, err := os.Stat(path)
	return err == nil
}

// modelTableFromEnv parses OPENCC_MODEL_MAP, a comma-separated list of
// pattern=target pairs, e.g.
// "claude-3-sonnet-20240229=gpt-4o,/^claude-3-haiku/=gpt-4o-mini".
func modelTableFromEnv() convert.ModelTable {
	raw := os.Getenv("OPENCC_MODEL_MAP")
	if raw == "" {
		return nil
	}
	var table convert.ModelTable
	for _, pair := range strings.Split(raw, ",") {
		pattern, target, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || pattern == "" || target == "" {
			logging.Warnf("config: skipping malformed model mapping %q", pair)
			continue
		}
		table = append(table, convert.ModelMapping{Pattern: pattern, Target: target})
	}
	return table
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
