// Package providers implements LLM backends behind the schema.LLMProvider
// interface. OpenAIProvider covers every OpenAI-compatible endpoint plus the
// Anthropic Messages API.
package providers

import "github.com/ambergull/ambergull/internal/schema"

// ChatOptions configures a single LLM chat request.
// The canonical definition lives in internal/schema; this alias keeps
// call sites short.
type ChatOptions = schema.ChatOptions

// ToolCallRequest represents one tool invocation requested by the LLM.
type ToolCallRequest = schema.ToolCallRequest

// LLMResponse is the normalised response from any LLM provider.
type LLMResponse = schema.LLMResponse

// LLMProvider is the interface every LLM backend must satisfy.
type LLMProvider = schema.LLMProvider
