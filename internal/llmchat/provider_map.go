// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llmchat

// anthropicModelAliases and openaiModelAliases map the model names operators configure onto
// each backend's actual model identifier: a provider adapter translates
// an OpenAI-style name to the real backend identifier. Providers not
// listed here pass the configured name through unchanged, which covers
// the common case of an operator already naming the provider's own
// model.
var anthropicModelAliases = map[string]string{
	"gpt-4o":      "claude-opus-4-1-20250805",
	"gpt-4o-mini": "claude-haiku-4-5-20251001",
	"gpt-4":       "claude-sonnet-4-5-20250929",
	"gpt-3.5":     "claude-haiku-4-5-20251001",
}

var openaiModelAliases = map[string]string{
	"claude-opus":   "gpt-4o",
	"claude-sonnet": "gpt-4o",
	"claude-haiku":  "gpt-4o-mini",
}

func resolveModel(aliases map[string]string, configured string) string {
	if actual, ok := aliases[configured]; ok {
		return actual
	}
	return configured
}
