package llmcli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildEnvStripsNestedSessionVar(t *testing.T) {
	t.Setenv(nestedSessionVar, "1")
	t.Setenv("KEEP_ME", "yes")

	env := childEnv()
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, nestedSessionVar+"="),
			"nested session variable must not leak to the child")
	}
	assert.Contains(t, env, "KEEP_ME=yes")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo\nthree"))
	assert.Equal(t, "only", firstLine("  only  "))
	assert.Equal(t, "", firstLine(""))
}

// fakeCLI writes an executable script standing in for the LLM CLI binary.
func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRunPrint(t *testing.T) {
	t.Run("parses the single json blob", func(t *testing.T) {
		r := &Runner{Binary: fakeCLI(t,
			`echo '{"type":"result","result":"hi there","session_id":"s-9","is_error":false}'`)}

		res, err := r.RunPrint(context.Background(), PrintRequest{Prompt: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "hi there", res.Text)
		assert.Equal(t, "s-9", res.SessionID)
		assert.False(t, res.IsError)
	})

	t.Run("non-zero exit is an error", func(t *testing.T) {
		r := &Runner{Binary: fakeCLI(t, `echo boom >&2; exit 1`)}
		_, err := r.RunPrint(context.Background(), PrintRequest{Prompt: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("timeout kills the process", func(t *testing.T) {
		r := &Runner{Binary: fakeCLI(t, `sleep 10`)}
		_, err := r.RunPrint(context.Background(), PrintRequest{
			Prompt:  "x",
			Timeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})
}

func TestRunStream(t *testing.T) {
	t.Run("collects text and result across events", func(t *testing.T) {
		r := &Runner{Binary: fakeCLI(t, `
echo '{"type":"system","session_id":"s-1"}'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"part one "}]}}'
echo 'not json at all'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"part two"}]}}'
echo '{"type":"result","result":"final","session_id":"s-1","total_cost_usd":0.1,"num_turns":2}'
`)}

		var events []string
		out, err := r.RunStream(context.Background(), StreamRequest{
			Prompt: "go",
			OnEvent: func(ev *Event) {
				events = append(events, ev.Type)
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "part one part two", out.Text)
		require.NotNil(t, out.Result)
		assert.Equal(t, "final", out.Result.ResultText())
		assert.Equal(t, []string{"system", "assistant", "assistant", "result"}, events)
		assert.Contains(t, out.Transcript, `"type":"result"`)
	})

	t.Run("missing result event is an error", func(t *testing.T) {
		r := &Runner{Binary: fakeCLI(t, `echo '{"type":"system"}'`)}
		_, err := r.RunStream(context.Background(), StreamRequest{Prompt: "go"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no result event")
	})
}
