package main_test

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"go-ytdl-host/internal/models"

	"github.com/stretchr/testify/require"
)

func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("binary test skipped in -short mode")
	}
}

// isolatedEnv points state, config and env files at a temp dir and clears
// any YTDL_HOST_ variables inherited from the developer's shell.
func isolatedEnv(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	env := []string{}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "YTDL_HOST_") {
			env = append(env, kv)
		}
	}
	env = append(env, "YTDL_HOST_STATEPATH="+filepath.Join(dir, "state"))
	return dir, env
}

// runCommand executes the binary with args from an isolated working directory.
func runCommand(t *testing.T, env []string, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = t.TempDir()
	cmd.Env = env
	cmd.Stdin = stdin

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		t.Logf("Command failed with error: %v\nStderr:\n%s", err, stderr.String())
	}
	return stdout.String(), stderr.String(), err
}

// createTempConfig creates a temporary TOML config file
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	tempFile := filepath.Join(t.TempDir(), "temp_config.toml")
	require.NoError(t, os.WriteFile(tempFile, []byte(content), 0600), "Failed to write temporary config file")
	return tempFile
}

// parseShowConfigOutput parses the JSON output of 'debug show-config'
func parseShowConfigOutput(t *testing.T, output string) models.Config {
	t.Helper()
	var cfg models.Config
	err := json.Unmarshal([]byte(output), &cfg)
	if err != nil {
		t.Logf("Failed to unmarshal JSON output:\n%s", output)
	}
	require.NoError(t, err, "Failed to parse JSON output from debug show-config")
	return cfg
}
