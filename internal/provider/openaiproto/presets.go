package openaiproto

import (
	"github.com/opencc/proxy/internal/provider"
)

// OpenAIConfig builds the standard api.openai.com backend.
func OpenAIConfig(apiKey, orgID string) Config {
	return Config{
		Name:    "openai",
		Version: "v1",
		Auth:    provider.Bearer(apiKey),
		Endpoints: provider.EndpointConfig{
			Base: "https://api.openai.com",
			Org:  orgID,
			Endpoints: map[string]provider.Endpoint{
				provider.EndpointChat:   {Path: "/v1/chat/completions", Method: "POST"},
				provider.EndpointModels: {Path: "/v1/models", Method: "GET"},
			},
		},
		Capabilities: provider.Capabilities{
			SupportsStreaming: true,
			SupportsTools:     true,
			SupportsVision:    true,
			MaxTokens:         16384,
			MaxContextLength:  128000,
			ProtocolVersion:   "v1",
		},
	}
}

// AzureConfig builds an Azure OpenAI backend. Azure scopes chat requests
// to a deployment and authenticates with an api-key header instead of a
// bearer token; the wire shape is otherwise Protocol B.
func AzureConfig(endpoint, deployment, apiVersion, apiKey string) Config {
	query := "?api-version=" + apiVersion
	return Config{
		Name:    "azure-openai",
		Version: apiVersion,
		Auth:    provider.StaticAuth{Header: "api-key", Value: apiKey},
		Endpoints: provider.EndpointConfig{
			Base: endpoint,
			Endpoints: map[string]provider.Endpoint{
				provider.EndpointChat:   {Path: "/openai/deployments/" + deployment + "/chat/completions" + query, Method: "POST"},
				provider.EndpointModels: {Path: "/openai/models" + query, Method: "GET"},
			},
		},
		Capabilities: provider.Capabilities{
			SupportsStreaming: true,
			SupportsTools:     true,
			SupportsVision:    false,
			MaxTokens:         16384,
			MaxContextLength:  128000,
			ProtocolVersion:   apiVersion,
		},
	}
}
