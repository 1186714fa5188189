package main_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ytdl-host/internal/models"
)

func TestShowConfig_Defaults(t *testing.T) {
	skipIfShort(t)
	dir, env := isolatedEnv(t)
	cfgPath := createTempConfig(t, "")

	stdout, _, err := runCommand(t, env, nil, "--config", cfgPath, "debug", "show-config")
	require.NoError(t, err, "Command execution failed")

	parsed := parseShowConfigOutput(t, stdout)
	state := filepath.Join(dir, "state")
	assert.Equal(t, state, parsed.StatePath)
	assert.Equal(t, filepath.Join(state, "history.db"), parsed.DatabasePath)
	assert.Equal(t, "video", parsed.Download.Kind)
	assert.Equal(t, "best", parsed.Download.Quality)
	assert.Equal(t, "mp4", parsed.Download.MergeFormat)
	assert.True(t, parsed.Download.AutoStart)
}

func TestShowConfig_ConfigLoad(t *testing.T) {
	skipIfShort(t)
	_, env := isolatedEnv(t)
	cfgPath := createTempConfig(t, `
SavePath = "/srv/media"

[Download]
Kind = "audio"
Quality = "mp3_192"
Retries = 4
`)

	stdout, _, err := runCommand(t, env, nil, "--log-level", "debug", "--config", cfgPath, "debug", "show-config")
	require.NoError(t, err)

	parsed := parseShowConfigOutput(t, stdout)
	assert.Equal(t, "/srv/media", parsed.SavePath)
	assert.Equal(t, "audio", parsed.Download.Kind)
	assert.Equal(t, "mp3_192", parsed.Download.Quality)
	assert.Equal(t, 4, parsed.Download.Retries)
	assert.Equal(t, 10, parsed.Download.FragmentRetries, "unset keys keep defaults")
}

func TestShowConfig_FlagOverride(t *testing.T) {
	skipIfShort(t)
	_, env := isolatedEnv(t)
	cfgPath := createTempConfig(t, "[Download]\nQuality = \"720\"\nMergeFormat = \"mkv\"\n")

	stdout, _, err := runCommand(t, env, nil, "--config", cfgPath, "--save-path", "/from/flag",
		"debug", "show-config", "-q", "1080", "--auto-start=false")
	require.NoError(t, err)

	parsed := parseShowConfigOutput(t, stdout)
	assert.Equal(t, "/from/flag", parsed.SavePath)
	assert.Equal(t, "1080", parsed.Download.Quality, "flag overrides config")
	assert.Equal(t, "mkv", parsed.Download.MergeFormat, "config value kept when no flag is given")
	assert.False(t, parsed.Download.AutoStart)
}

func TestShowConfig_EnvOverride(t *testing.T) {
	skipIfShort(t)
	_, env := isolatedEnv(t)
	cfgPath := createTempConfig(t, "LogLevel = \"warn\"\n")
	env = append(env, "YTDL_HOST_DOWNLOAD_KIND=audio")

	stdout, _, err := runCommand(t, env, nil, "--config", cfgPath, "debug", "show-config")
	require.NoError(t, err)

	parsed := parseShowConfigOutput(t, stdout)
	assert.Equal(t, "audio", parsed.Download.Kind)
	assert.Equal(t, "warn", parsed.LogLevel)
}

func TestShowConfig_TOML(t *testing.T) {
	skipIfShort(t)
	_, env := isolatedEnv(t)
	cfgPath := createTempConfig(t, "[Download]\nSubfolderPattern = \"{kind}/{channel}\"\n")

	stdout, _, err := runCommand(t, env, nil, "--config", cfgPath, "debug", "show-config", "--toml")
	require.NoError(t, err)
	assert.True(t, strings.Contains(stdout, "[Download]"), "TOML output should contain the Download table:\n%s", stdout)

	var parsed models.Config
	_, err = toml.Decode(stdout, &parsed)
	require.NoError(t, err)
	assert.Equal(t, "{kind}/{channel}", parsed.Download.SubfolderPattern)
}

func TestShowConfig_InvalidPattern(t *testing.T) {
	skipIfShort(t)
	_, env := isolatedEnv(t)
	cfgPath := createTempConfig(t, "[Download]\nSubfolderPattern = \"{title}\"\n")

	_, stderr, err := runCommand(t, env, nil, "--config", cfgPath, "debug", "show-config")
	require.Error(t, err)
	assert.Contains(t, stderr, "SubfolderPattern")
}
