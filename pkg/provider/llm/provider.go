// Package llm defines the Provider interface for Large Language Model backends.
//
// Meetings use an LLM for two short, non-streaming jobs: classifying an
// utterance into a decision, and writing a spoken reply. Both go through
// [Provider.Complete].
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrRefused is returned when the model declined to answer. It is not
// transient: retrying the same request gets the same refusal.
var ErrRefused = errors.New("llm: model refused the request")

// FinishLength is the [CompletionResponse.FinishReason] of an answer cut off
// by MaxTokens.
const FinishLength = "length"

// Role values for [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before Messages as a system message.
	SystemPrompt string

	Messages []Message

	// Temperature in [0.0, 2.0]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps completion tokens. Zero leaves the provider default.
	MaxTokens int

	// JSON asks the backend for a JSON object response where supported.
	// Callers must still validate the output.
	JSON bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage

	// FinishReason is the backend's reason for stopping, such as "stop" or
	// [FinishLength]. Empty when the backend does not report one.
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
