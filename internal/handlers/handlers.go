// ABOUTME: Collaborator interfaces and registration for the built-in task handlers
// ABOUTME: Registers investigate, analyze, summarize and skill_invoke against a task registry

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikroclaw/mikroclaw/internal/tasks"
)

// Task type names.
const (
	TypeInvestigate = "investigate"
	TypeAnalyze     = "analyze"
	TypeSummarize   = "summarize"
	TypeSkillInvoke = "skill_invoke"
)

// Device reads state from the managed network device over its REST API.
type Device interface {
	Get(ctx context.Context, path string) (string, error)
}

// Chatter sends one system+user exchange to the LLM backend.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Recaller retrieves from conversation memory.
type Recaller interface {
	Retrieve(ctx context.Context, query, method string) (string, error)
}

// Deps are the collaborators available to handlers. Nil collaborators make
// the handlers that need them unavailable.
type Deps struct {
	Device    Device
	Chat      Chatter
	Memory    Recaller
	SkillsDir string
	Logger    *slog.Logger
}

// Register adds every handler whose collaborators are present to reg.
// skill_invoke is always registered.
func Register(reg *tasks.Registry, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "handlers")

	if deps.Device != nil && deps.Chat != nil {
		if err := reg.Register(TypeInvestigate, &Investigate{Device: deps.Device, Chat: deps.Chat}); err != nil {
			return fmt.Errorf("registering %s: %w", TypeInvestigate, err)
		}
		if err := reg.Register(TypeAnalyze, &Analyze{Device: deps.Device, Chat: deps.Chat}); err != nil {
			return fmt.Errorf("registering %s: %w", TypeAnalyze, err)
		}
	} else {
		logger.Info("device or llm not configured, investigate and analyze disabled")
	}

	if deps.Memory != nil {
		if err := reg.Register(TypeSummarize, &Summarize{Memory: deps.Memory}); err != nil {
			return fmt.Errorf("registering %s: %w", TypeSummarize, err)
		}
	} else {
		logger.Info("memory not configured, summarize disabled")
	}

	if err := reg.Register(TypeSkillInvoke, &SkillInvoke{Dir: deps.SkillsDir}); err != nil {
		return fmt.Errorf("registering %s: %w", TypeSkillInvoke, err)
	}

	logger.Debug("task handlers registered", "types", reg.Names())
	return nil
}

// query is one labelled device read.
type query struct {
	label string
	path  string
}

// maxContextBytes bounds the device data passed to the LLM.
const maxContextBytes = 7000

// gather runs queries against dev and concatenates the labelled results.
// Failed reads are recorded inline so the LLM can see what is missing.
func gather(ctx context.Context, dev Device, queries []query) string {
	var b strings.Builder
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			break
		}
		fmt.Fprintf(&b, "\n[%s] %s\n", q.label, q.path)
		data, err := dev.Get(ctx, q.path)
		if err != nil {
			b.WriteString("<query_failed>")
		} else {
			b.WriteString(data)
		}
		b.WriteString("\n")
		if b.Len() >= maxContextBytes {
			break
		}
	}
	out := b.String()
	if len(out) > maxContextBytes {
		out = out[:maxContextBytes]
	}
	return out
}

// stringParam reads a string field from JSON params, returning def when absent.
func stringParam(params json.RawMessage, key, def string) string {
	if len(params) == 0 {
		return def
	}
	var m map[string]any
	if err := json.Unmarshal(params, &m); err != nil {
		return def
	}
	v, ok := m[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
