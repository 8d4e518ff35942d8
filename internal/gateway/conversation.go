// ABOUTME: Conversation pipeline backed by a chat collaborator
// ABOUTME: Wraps free-form gateway prompts with the router assistant system prompt

package gateway

import (
	"context"
	"errors"

	"github.com/mikroclaw/mikroclaw/internal/handlers"
)

const conversationSystemPrompt = "You are MikroClaw, an AI assistant running on a MikroTik router. " +
	"Respond with valid RouterOS commands when appropriate, or helpful explanations. " +
	"Keep responses concise. " +
	"Format: Start with ### if providing RouterOS commands to execute."

// ChatPipeline answers prompts with a single chat exchange.
type ChatPipeline struct {
	Chat handlers.Chatter
}

// Reply implements Pipeline.
func (p *ChatPipeline) Reply(ctx context.Context, prompt string) (string, error) {
	if p.Chat == nil {
		return "", errors.New("llm unavailable")
	}
	return p.Chat.Chat(ctx, conversationSystemPrompt, prompt)
}
