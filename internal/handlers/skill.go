// ABOUTME: skill_invoke task handler running an executable from the skills directory
// ABOUTME: The process is bound to the worker context so cancellation kills it

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var skillNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]{0,127}$`)

// skillWaitDelay bounds how long output pipes are drained after the skill is killed.
const skillWaitDelay = 2 * time.Second

// SkillInvoke runs <Dir>/<skill> and returns its standard output.
// Params: {"skill": "backup-config"}. Skill names are a single path element.
type SkillInvoke struct {
	Dir string
}

// Handle implements tasks.Handler.
func (h *SkillInvoke) Handle(ctx context.Context, params json.RawMessage) (string, error) {
	skill := stringParam(params, "skill", "")
	if skill == "" {
		return "", errors.New("skill_invoke failed: missing skill")
	}
	if !skillNamePattern.MatchString(skill) || strings.Contains(skill, "..") {
		return "", fmt.Errorf("skill_invoke failed: invalid skill name %q", skill)
	}

	dir := h.Dir
	if dir == "" {
		dir = "./skills"
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("skill_invoke failed: resolving skills dir: %w", err)
	}
	path := filepath.Join(dir, skill)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = skillWaitDelay

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			return "", fmt.Errorf("skill_invoke failed: %s exited with code %d: %s", skill, exitErr.ExitCode(), msg)
		}
		return "", fmt.Errorf("skill_invoke failed: %w", err)
	}

	return stdout.String(), nil
}
