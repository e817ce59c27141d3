package registry

// openAIShapedProviders lists every provider that speaks the OpenAI
// chat-completions wire shape (§6.2, row 1). They differ only in base URL
// and which models they host.
var openAIShapedProviders = []string{
	"openai", "deepseek", "groq", "xai", "together", "novita", "moonshot",
	"inference-net", "kluster-ai", "cloudrift", "perplexity", "mistral",
	"alibaba", "nebius", "zai",
}

// DefaultProviders returns the built-in provider catalog (§6.2).
func DefaultProviders() []ProviderDescriptor {
	providers := make([]ProviderDescriptor, 0, len(openAIShapedProviders)+2)

	for _, id := range openAIShapedProviders {
		providers = append(providers, ProviderDescriptor{
			ID:                id,
			DisplayName:       id,
			BaseURLTemplate:   "https://api." + id + ".com/v1",
			AuthShape:         AuthBearer,
			SupportsStreaming: true,
			SupportsVision:    id == "openai" || id == "xai",
			SupportsTools:     true,
			SupportsReasoning: id == "openai" || id == "deepseek",
		})
	}

	providers = append(providers,
		ProviderDescriptor{
			ID:                "anthropic",
			DisplayName:       "Anthropic",
			BaseURLTemplate:   "https://api.anthropic.com",
			AuthShape:         AuthAPIKeyHeader,
			SupportsStreaming: true,
			SupportsVision:    true,
			SupportsTools:     true,
			SupportsReasoning: true,
		},
		ProviderDescriptor{
			ID:                "google-ai-studio",
			DisplayName:       "Google AI Studio",
			BaseURLTemplate:   "https://generativelanguage.googleapis.com",
			AuthShape:         AuthURLEmbedded,
			SupportsStreaming: true,
			SupportsVision:    true,
			SupportsTools:     true,
			SupportsReasoning: true,
		},
	)

	return providers
}

// DefaultModels returns the built-in model catalog. Prices are per-token
// (not per-million) to match §4.5's cost formula directly; real deployments
// would load this table from a config file or a pricing service instead of
// hardcoding it, but the registry's contract (§4.1) does not depend on
// where the data came from.
func DefaultModels() []ModelDescriptor {
	ptr := func(b bool) *bool { return &b }
	f := func(v float64) *float64 { return &v }

	return []ModelDescriptor{
		{
			ID:   "gpt-x",
			Name: "GPT-X",
			Mappings: []ProviderMapping{
				{
					ProviderID:      "openai",
					UpstreamModel:   "gpt-x",
					InputPrice:      0.000003,
					OutputPrice:     0.000006,
					CachedInputPrice: f(0.0000015),
					ContextWindow:   128_000,
					MaxOutputTokens: 16_384,
					SupportsTools:   ptr(true),
					SupportsVision:  ptr(true),
					SupportedParameters: []Parameter{
						ParamMaxTokens, ParamTemperature, ParamTopP,
						ParamFrequencyPenalty, ParamPresencePenalty,
						ParamResponseFormat, ParamTools, ParamToolChoice,
					},
				},
			},
		},
		{
			ID:   "r1",
			Name: "Reasoner-1",
			Mappings: []ProviderMapping{
				{
					ProviderID:        "deepseek",
					UpstreamModel:     "deepseek-reasoner",
					InputPrice:        0.00000055,
					OutputPrice:       0.00000219,
					ContextWindow:     64_000,
					MaxOutputTokens:   8_192,
					SupportsReasoning: ptr(true),
					ReasoningOutput:   ReasoningOutputInclude,
					SupportedParameters: []Parameter{
						ParamMaxTokens, ParamReasoningEffort,
					},
				},
			},
		},
		{
			ID:   "claude-sonnet",
			Name: "Claude Sonnet",
			Mappings: []ProviderMapping{
				{
					ProviderID:        "anthropic",
					UpstreamModel:     "claude-sonnet-4-5",
					InputPrice:        0.000003,
					OutputPrice:       0.000015,
					CachedInputPrice:  f(0.0000003),
					ContextWindow:     200_000,
					MaxOutputTokens:   8_192,
					SupportsTools:     ptr(true),
					SupportsVision:    ptr(true),
					SupportsReasoning: ptr(true),
					ReasoningOutput:   ReasoningOutputInclude,
					SupportedParameters: []Parameter{
						ParamMaxTokens, ParamTemperature, ParamTopP,
						ParamTools, ParamToolChoice, ParamReasoningEffort,
					},
				},
			},
		},
		{
			ID:   "claude-haiku",
			Name: "Claude Haiku",
			Mappings: []ProviderMapping{
				{
					ProviderID:      "anthropic",
					UpstreamModel:   "claude-haiku-4-5",
					InputPrice:      0.0000008,
					OutputPrice:     0.000004,
					ContextWindow:   200_000,
					MaxOutputTokens: 8_192,
					SupportsTools:   ptr(true),
					SupportsVision:  ptr(true),
					SupportedParameters: []Parameter{
						ParamMaxTokens, ParamTemperature, ParamTopP,
						ParamTools, ParamToolChoice,
					},
				},
			},
		},
		{
			ID:   "gemini-flash",
			Name: "Gemini Flash",
			Mappings: []ProviderMapping{
				{
					ProviderID:        "google-ai-studio",
					UpstreamModel:     "gemini-2.5-flash",
					InputPrice:        0.000000075,
					OutputPrice:       0.0000003,
					ContextWindow:     1_000_000,
					MaxOutputTokens:   8_192,
					SupportsTools:     ptr(true),
					SupportsVision:    ptr(true),
					SupportsReasoning: ptr(true),
					ReasoningOutput:   ReasoningOutputInclude,
					SupportedParameters: []Parameter{
						ParamMaxTokens, ParamTemperature, ParamTopP,
						ParamTools, ParamReasoningEffort,
					},
				},
			},
		},
	}
}
