package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/filepeer/peer"
	"github.com/opd-ai/filepeer/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *CLIConfig {
	config, err := parseCLIFlags([]string{"serve"}, io.Discard)
	if err != nil {
		panic(err)
	}
	return config
}

func TestParseCLIFlagsDefaults(t *testing.T) {
	config, err := parseCLIFlags([]string{"retrieve", "notes.txt"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "retrieve", config.command)
	assert.Equal(t, []string{"notes.txt"}, config.args)
	assert.Equal(t, uint(5000), config.startPort)
	assert.Equal(t, 100, config.attempts)
	assert.Equal(t, "server_directory", config.rootDir)
	assert.Equal(t, 4096, config.bufferSize)
	assert.True(t, config.progress)
}

func TestParseCLIFlagsOverrides(t *testing.T) {
	config, err := parseCLIFlags([]string{
		"-host", "10.0.0.5", "-port", "6000", "-attempts", "10",
		"-proxy", "socks5://127.0.0.1:1080", "-log-json", "-progress=false",
		"move", "a.txt", "archive",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", config.host)
	assert.Equal(t, uint(6000), config.startPort)
	assert.Equal(t, 10, config.attempts)
	assert.Equal(t, "socks5://127.0.0.1:1080", config.proxy)
	assert.True(t, config.logJSON)
	assert.False(t, config.progress)
	assert.Equal(t, "move", config.command)
	assert.Equal(t, []string{"a.txt", "archive"}, config.args)
}

func TestParseCLIFlagsUnknownFlag(t *testing.T) {
	_, err := parseCLIFlags([]string{"-bogus", "serve"}, io.Discard)
	assert.Error(t, err)
}

func TestValidateCLIConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*CLIConfig)
		wantErr     bool
		errContains string
	}{
		{name: "valid serve", modify: func(c *CLIConfig) {}},
		{name: "valid store with name", modify: func(c *CLIConfig) { c.command, c.args = "store", []string{"a", "b"} }},
		{name: "no command", modify: func(c *CLIConfig) { c.command = "" }, wantErr: true, errContains: "no command"},
		{name: "unknown command", modify: func(c *CLIConfig) { c.command = "copy" }, wantErr: true, errContains: "unknown command"},
		{name: "serve with args", modify: func(c *CLIConfig) { c.args = []string{"x"} }, wantErr: true, errContains: "arguments"},
		{name: "move missing target", modify: func(c *CLIConfig) { c.command, c.args = "move", []string{"a"} }, wantErr: true, errContains: "arguments"},
		{name: "delete too many", modify: func(c *CLIConfig) { c.command, c.args = "delete", []string{"a", "b"} }, wantErr: true, errContains: "arguments"},
		{name: "port zero", modify: func(c *CLIConfig) { c.startPort = 0 }, wantErr: true, errContains: "invalid port"},
		{name: "port over 65535", modify: func(c *CLIConfig) { c.startPort = 70000 }, wantErr: true, errContains: "invalid port"},
		{name: "range past last port", modify: func(c *CLIConfig) { c.startPort = 65530; c.attempts = 10 }, wantErr: true},
		{name: "zero attempts", modify: func(c *CLIConfig) { c.attempts = 0 }, wantErr: true},
		{name: "negative max conns", modify: func(c *CLIConfig) { c.maxConns = -1 }, wantErr: true, errContains: "max connections"},
		{name: "negative idle timeout", modify: func(c *CLIConfig) { c.idleTimeout = -time.Second }, wantErr: true, errContains: "idle timeout"},
		{name: "negative shutdown timeout", modify: func(c *CLIConfig) { c.shutdown = -time.Second }, wantErr: true, errContains: "shutdown timeout"},
		{name: "zero attempt timeout", modify: func(c *CLIConfig) { c.attemptTimeout = 0 }, wantErr: true, errContains: "attempt timeout"},
		{name: "tiny buffer", modify: func(c *CLIConfig) { c.bufferSize = 16 }, wantErr: true},
		{name: "bad log level", modify: func(c *CLIConfig) { c.logLevel = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(config)

			err := validateCLIConfig(config)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.errContains != "" {
				assert.Contains(t, err.Error(), tt.errContains)
			}
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	config := validConfig()
	config.logLevel = "debug"
	config.logJSON = true

	var out bytes.Buffer
	require.NoError(t, configureLogging(config, &out))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	logrus.WithField("function", "test").Info("hello")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out.String()), "{"), "JSON output expected")
}

func TestCreateOptions(t *testing.T) {
	config := validConfig()
	config.rootDir = "shared"
	config.maxConns = 4
	config.startPort = 7000
	config.attempts = 3

	server := createServerOptions(config)
	assert.Equal(t, "shared", server.RootDir)
	assert.Equal(t, 4, server.MaxConnections)
	assert.Equal(t, transport.PortRange{Start: 7000, Attempts: 3}, server.Ports)
	assert.NotNil(t, server.Notifier)

	client := createClientOptions(config)
	assert.Equal(t, "localhost", client.Host, "client defaults to localhost when no host is set")
	assert.Equal(t, server.Ports, client.Ports)

	config.host = "10.1.1.1"
	assert.Equal(t, "10.1.1.1", createClientOptions(config).Host)
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".b.txt.123.part"), nil, 0o644))

	files, err := listFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt", "sub/a.txt"}, files)
}

func TestRunAgainstServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	root := filepath.Join(t.TempDir(), "root")
	opts := peer.NewServerOptions()
	opts.RootDir = root
	opts.Host = "127.0.0.1"
	opts.Ports = transport.PortRange{Start: uint16(port), Attempts: 1}
	opts.MinFreeBytes = 0
	server, err := peer.NewServer(opts)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	local := filepath.Join(t.TempDir(), "cli.txt")
	require.NoError(t, os.WriteFile(local, []byte("from the cli"), 0o644))

	base := []string{"-host", "127.0.0.1", "-port", strconv.Itoa(port), "-attempts", "1", "-progress=false"}
	exec := func(args ...string) error {
		config, err := parseCLIFlags(append(append([]string{}, base...), args...), io.Discard)
		require.NoError(t, err)
		require.NoError(t, validateCLIConfig(config))
		return run(context.Background(), config)
	}

	require.NoError(t, exec("store", local))
	assert.FileExists(t, filepath.Join(server.Root().Path(), "cli.txt"))

	dest := t.TempDir()
	require.NoError(t, exec("retrieve", "cli.txt", dest))
	data, err := os.ReadFile(filepath.Join(dest, "cli.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from the cli", string(data))

	require.NoError(t, exec("delete", "cli.txt"))
	assert.NoFileExists(t, filepath.Join(server.Root().Path(), "cli.txt"))

	assert.ErrorIs(t, exec("delete", "cli.txt"), transport.ErrNotFound)
}

func TestRunServeFailsWhenNoPortAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	config, err := parseCLIFlags([]string{
		"-host", "127.0.0.1", "-port", strconv.Itoa(port), "-attempts", "1",
		"-root", filepath.Join(t.TempDir(), "root"), "serve",
	}, io.Discard)
	require.NoError(t, err)
	require.NoError(t, validateCLIConfig(config))

	// serve has nothing left to run without a bound port, so main exits 1.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = run(ctx, config)
	assert.ErrorIs(t, err, transport.ErrNoPortAvailable)
}
