package globalmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/pkg/llmcli"
)

// composerSystemPrompt is the system-prompt file used for fallback prose.
const composerSystemPrompt = "global_manager.md"

// LLMComposer delegates free-form reply composition to the LLM CLI in
// single-shot print mode. Stateless: no session is resumed or recorded.
type LLMComposer struct {
	Runner          *llmcli.Runner
	SystemPromptDir string
	Timeout         time.Duration
}

// Compose asks the LLM for a short reply to the user's message.
func (c *LLMComposer) Compose(ctx context.Context, email, message string) (string, error) {
	prompt := fmt.Sprintf("Message from %s:\n\n%s", email, message)
	res, err := c.Runner.RunPrint(ctx, llmcli.PrintRequest{
		Prompt:           prompt,
		SystemPromptFile: filepath.Join(c.SystemPromptDir, composerSystemPrompt),
		Timeout:          c.Timeout,
	})
	if err != nil {
		return "", err
	}
	if res.IsError || res.Text == "" {
		return "", apperrors.SubprocessFailure("composer returned an error result", nil)
	}
	return res.Text, nil
}
