package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)

	log := Logger("test")
	log.Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
	assert.Contains(t, output, "subsystem=test")
}

func TestSetOutput_ExistingLogger(t *testing.T) {
	log := Logger("test2")

	buf := &bytes.Buffer{}
	SetOutput(buf)

	log.Info("after switch", "key", "value")
	assert.Contains(t, buf.String(), "after switch")
}

func TestSetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)

	log := Logger("test3")
	SetLevel("test3", slog.LevelError)
	log.Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	SetLevel("test3", slog.LevelDebug)
	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestRedactsCredentials(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)

	log := Logger("test4")
	log.Info("registered", "sn", "X", "token", "secret")
	log.Info("server", slog.Group("auth", slog.String("password", "hunter2")))

	out := buf.String()
	assert.Contains(t, out, "sn=X")
	assert.Contains(t, out, "token=***")
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "hunter2")
}

func TestLevelNames(t *testing.T) {
	assert.Equal(t, "debug", levelToString(slog.LevelDebug))
	assert.Equal(t, "info", levelToString(slog.LevelInfo))
	assert.Equal(t, "warn", levelToString(slog.LevelWarn+1))
	assert.Equal(t, "error", levelToString(slog.LevelError+4))
}

func TestSetOutput_Nil(t *testing.T) {
	SetOutput(nil)
	assert.NotPanics(t, func() { Logger("test5").Error("dropped") })
	SetOutput(&bytes.Buffer{})
}

func TestParseLevelConfig(t *testing.T) {
	cfg := &Config{DefaultLevel: slog.LevelInfo, SubsystemLevels: map[string]slog.Level{}}
	parseLevelConfig(cfg, "relay=debug, nat=warn ,error")

	require.Equal(t, slog.LevelError, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LevelForSubsystem("relay"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelForSubsystem("nat.stun"))
	assert.Equal(t, slog.LevelError, cfg.LevelForSubsystem("worker"))
}
