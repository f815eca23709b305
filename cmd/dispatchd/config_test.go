package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/dispatch"
)

func parse(t *testing.T, args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("dispatchd", pflag.ContinueOnError)
	addServerFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestServerConfigDefaults(t *testing.T) {
	v, err := newViper(parse(t))
	require.NoError(t, err)

	cfg, err := serverConfig(v)
	require.NoError(t, err)
	assert.Equal(t, dispatch.DefaultConfig(), cfg)
}

func TestServerConfigFlags(t *testing.T) {
	assert := assert.New(t)

	v, err := newViper(parse(t,
		"--port", "9090",
		"--backlog", "16",
		"--mode", "blocking",
		"--poller", "select",
		"--poll-timeout", "250ms",
		"--response-fill", "b",
		"--no-delay",
	))
	require.NoError(t, err)

	cfg, err := serverConfig(v)
	require.NoError(t, err)
	assert.Equal(9090, cfg.Port)
	assert.Equal(16, cfg.Backlog)
	assert.Equal(dispatch.ModeBlocking, cfg.Mode)
	assert.Equal(dispatch.PollerSelect, cfg.Poller)
	assert.Equal(250*time.Millisecond, cfg.PollTimeout)
	assert.Equal(byte('b'), cfg.ResponseFill)
	assert.True(cfg.NoDelay)
}

func TestServerConfigPrecedence(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "dispatchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\nbacklog: 64\nchunk-size: 512\n"), 0o644))

	t.Setenv("DISPATCHD_BACKLOG", "128")
	t.Setenv("DISPATCHD_CHUNK_SIZE", "256")

	v, err := newViper(parse(t, "--config", path, "--chunk-size", "2048"))
	require.NoError(t, err)

	cfg, err := serverConfig(v)
	require.NoError(t, err)

	// file < env < flag
	assert.Equal(7000, cfg.Port)
	assert.Equal(128, cfg.Backlog)
	assert.Equal(2048, cfg.ChunkSize)
}

func TestServerConfigInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"--mode", "threads"},
		{"--poller", "kqueue"},
		{"--response-fill", "ab"},
		{"--backlog", "0"},
	} {
		v, err := newViper(parse(t, args...))
		require.NoError(t, err)

		_, err = serverConfig(v)
		assert.Error(t, err, "%v", args)
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := newViper(parse(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	v, err := newViper(parse(t, "--log-level", "debug", "--log-format", "json"))
	require.NoError(t, err)

	logger, err := newLogger(v)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	v, err = newViper(parse(t, "--log-format", "xml"))
	require.NoError(t, err)
	_, err = newLogger(v)
	assert.Error(t, err)
}
