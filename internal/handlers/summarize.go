// ABOUTME: summarize task handler producing a summary of recent conversation
// ABOUTME: Delegates to the memory collaborator's RAG retrieval

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	summarizeQuery  = "summarize recent conversation"
	summarizeMethod = "rag"
)

// Summarize asks conversation memory for a summary. Params are ignored
// except for an optional "query" override.
type Summarize struct {
	Memory Recaller
}

// Handle implements tasks.Handler.
func (h *Summarize) Handle(ctx context.Context, params json.RawMessage) (string, error) {
	if h.Memory == nil {
		return "", errors.New("summarize failed: memory unavailable")
	}

	q := stringParam(params, "query", summarizeQuery)
	out, err := h.Memory.Retrieve(ctx, q, summarizeMethod)
	if err != nil {
		return "", fmt.Errorf("summarize failed: %w", err)
	}
	return out, nil
}
