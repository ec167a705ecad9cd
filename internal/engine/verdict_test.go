package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadVerdict(t *testing.T) {
	t.Run("valid verdict", func(t *testing.T) {
		dir := t.TempDir()
		body := `{"approved":true,"feedback":"looks good","criteria_met":["builds","tested"]}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, VerdictFile), []byte(body), 0o644))

		v := readVerdict(dir)
		assert.True(t, v.Approved)
		assert.Equal(t, "looks good", v.Feedback)
		assert.Equal(t, []string{"builds", "tested"}, v.CriteriaMet)
	})

	t.Run("missing file is not approved", func(t *testing.T) {
		v := readVerdict(t.TempDir())
		assert.False(t, v.Approved)
		assert.Contains(t, v.Feedback, "did not produce")
	})

	t.Run("invalid json is not approved", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, VerdictFile), []byte("{broken"), 0o644))

		v := readVerdict(dir)
		assert.False(t, v.Approved)
		assert.Contains(t, v.Feedback, "invalid JSON")
	})
}
