package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/autocoder/progexec/internal/model"
	"github.com/stretchr/testify/require"
)

func TestSummaryUploader(t *testing.T) {
	t.Parallel()
	started := time.Now()
	report := model.NewReport("id", started, started.Add(time.Second), map[string]model.ExecutionResult{
		"build": {Name: "build", Status: model.StatusFinished, Stdout: "compiling\ndone", Elapsed: 1500 * time.Millisecond},
		"hang":  {Name: "hang", Status: model.StatusTimeout, Timeout: true, ExitCode: -1},
	})

	var buf bytes.Buffer
	require.NoError(t, summaryUploader{w: &buf}.Upload(t.Context(), report))
	out := buf.String()
	require.Contains(t, out, "build")
	require.Contains(t, out, "1.50s")
	require.Contains(t, out, "done")
	require.NotContains(t, out, "compiling")
	require.Contains(t, out, "timeout")
	require.Contains(t, out, "2 programs: 1 finished, 1 timeout, 0 aborted")
}

func TestLastLine(t *testing.T) {
	t.Parallel()
	require.Equal(t, "", lastLine(""))
	require.Equal(t, "b", lastLine("a\nb\n"))
	long := lastLine(string(bytes.Repeat([]byte("x"), 100)))
	require.Len(t, long, 60)
}

func TestConfigFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", configName)

	cfg := model.DefaultConfig(t.Context())
	require.NoError(t, writeConfig(path, cfg))
	require.True(t, exists(path))
	require.False(t, exists(filepath.Dir(path)))

	loaded, err := readConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	require.Equal(t, path, lookupConfig(path))

	bad := filepath.Join(t.TempDir(), configName)
	require.NoError(t, os.WriteFile(bad, []byte("version: 0\nservice:\n  mode: sometimes\n"), 0o600))
	_, err = readConfig(bad)
	require.Error(t, err)
}
