package commands

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutsideRoot(t *testing.T) {
	in := t.TempDir()
	root := filepath.Join(in, "uploads")
	paths := []string{
		filepath.Join(in, "a.pdf"),
		filepath.Join(root, "a_1", "original_a.pdf"),
		filepath.Join(in, "uploads-old", "b.pdf"),
	}
	got := outsideRoot(paths, root)
	assert.Equal(t, []string{paths[0], paths[2]}, got)
}

func TestOverridesOnlyChangedFlags(t *testing.T) {
	var f pipelineFlags
	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--dpi", "300", "--skip-existing"}))

	o := f.overrides(cmd)
	require.NotNil(t, o.DPI)
	assert.Equal(t, 300, *o.DPI)
	require.NotNil(t, o.SkipExisting)
	assert.True(t, *o.SkipExisting)
	assert.Nil(t, o.OutRoot)
	assert.Nil(t, o.OCRBackend)
	assert.Nil(t, o.Workers)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "scan2csv ")
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := newLogger("nonsense", "text")
	assert.True(t, logger.Enabled(t.Context(), 0))
	assert.False(t, logger.Enabled(t.Context(), -4))
}
