// Package main provides the command-line front end for filepeer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/opd-ai/filepeer/file"
	"github.com/opd-ai/filepeer/limits"
	"github.com/opd-ai/filepeer/peer"
	"github.com/opd-ai/filepeer/transport"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// CLI configuration
type CLIConfig struct {
	host           string
	startPort      uint
	attempts       int
	rootDir        string
	maxConns       int
	idleTimeout    time.Duration
	shutdown       time.Duration
	attemptTimeout time.Duration
	minFree        uint64
	bufferSize     int
	proxy          string
	logLevel       string
	logJSON        bool
	progress       bool
	help           bool

	command string
	args    []string
}

// commandArgs lists the positional arguments each subcommand accepts.
var commandArgs = map[string]struct{ min, max int }{
	"serve":    {0, 0},
	"store":    {1, 2},
	"retrieve": {1, 2},
	"move":     {2, 2},
	"delete":   {1, 1},
}

// newFlagSet defines the global flags on a new flag set bound to config.
func newFlagSet(config *CLIConfig, output io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet("filepeer", flag.ContinueOnError)
	flags.SetOutput(output)

	// Network configuration
	flags.StringVar(&config.host, "host", "", "Host to bind (serve) or connect to (default: all interfaces / localhost)")
	flags.UintVar(&config.startPort, "port", uint(transport.DefaultStartPort), "First port of the shared port range")
	flags.IntVar(&config.attempts, "attempts", transport.DefaultMaxAttempts, "Number of ports in the range")
	flags.StringVar(&config.proxy, "proxy", "", "Proxy URL for requests (socks5://host:port or http://host:port)")

	// Server configuration
	flags.StringVar(&config.rootDir, "root", file.DefaultRootDir, "Server directory")
	flags.IntVar(&config.maxConns, "max-conns", 0, "Maximum concurrent connections (0 = unbounded)")
	flags.Uint64Var(&config.minFree, "min-free", peer.DefaultMinFreeBytes, "Free bytes required to accept a store (0 disables the check)")

	// Timeouts and buffering
	flags.DurationVar(&config.idleTimeout, "idle-timeout", peer.DefaultIdleTimeout, "Fail a transfer that stalls this long (0 disables)")
	flags.DurationVar(&config.shutdown, "shutdown-timeout", peer.DefaultShutdownTimeout, "Wait this long for in-flight transfers on shutdown (0 waits indefinitely)")
	flags.DurationVar(&config.attemptTimeout, "attempt-timeout", transport.DefaultAttemptTimeout, "Timeout of each connect attempt")
	flags.IntVar(&config.bufferSize, "buffer", limits.DefaultBufferSize, "Transfer buffer size in bytes")

	// Output configuration
	flags.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVar(&config.logJSON, "log-json", false, "Emit logs as JSON")
	flags.BoolVar(&config.progress, "progress", true, "Show a progress bar for store and retrieve")

	flags.BoolVar(&config.help, "help", false, "Show help message")
	return flags
}

// parseCLIFlags parses the global flags followed by a subcommand and its
// arguments.
func parseCLIFlags(args []string, output io.Writer) (*CLIConfig, error) {
	config := &CLIConfig{}
	flags := newFlagSet(config, output)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	rest := flags.Args()
	if len(rest) > 0 {
		config.command = rest[0]
		config.args = rest[1:]
	}
	return config, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	name := filepath.Base(os.Args[0])
	fmt.Fprintln(w, "filepeer: send, fetch, move and delete files on a peer")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [options] serve\n", name)
	fmt.Fprintf(w, "  %s [options] store <local-file> [remote-name]\n", name)
	fmt.Fprintf(w, "  %s [options] retrieve <name> [destination]\n", name)
	fmt.Fprintf(w, "  %s [options] move <source-path> <target-dir>\n", name)
	fmt.Fprintf(w, "  %s [options] delete <name>\n", name)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	newFlagSet(&CLIConfig{}, w).PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  # Serve ./shared on the first free port from 5000\n")
	fmt.Fprintf(w, "  %s -root shared serve\n", name)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  # Upload a file to a peer on another host\n")
	fmt.Fprintf(w, "  %s -host 192.168.1.20 store report.pdf\n", name)
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if config.command == "" {
		return errors.New("no command given")
	}

	bounds, ok := commandArgs[config.command]
	if !ok {
		return fmt.Errorf("unknown command %q", config.command)
	}
	if n := len(config.args); n < bounds.min || n > bounds.max {
		return fmt.Errorf("%s: expected %d to %d arguments, got %d", config.command, bounds.min, bounds.max, n)
	}

	if config.startPort < uint(transport.MinValidPort) || config.startPort > uint(transport.MaxValidPort) {
		return fmt.Errorf("invalid port: must be between 1 and 65535")
	}

	ports := transport.PortRange{Start: uint16(config.startPort), Attempts: config.attempts}
	if err := ports.Validate(); err != nil {
		return err
	}

	if config.maxConns < 0 {
		return fmt.Errorf("max connections cannot be negative")
	}

	if config.idleTimeout < 0 {
		return fmt.Errorf("idle timeout cannot be negative")
	}

	if config.shutdown < 0 {
		return fmt.Errorf("shutdown timeout cannot be negative")
	}

	if config.attemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive")
	}

	if err := limits.ValidateBufferSize(config.bufferSize); err != nil {
		return err
	}

	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return err
	}

	return nil
}

// configureLogging applies the log level and formatter.
func configureLogging(config *CLIConfig, out io.Writer) error {
	level, err := logrus.ParseLevel(config.logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(out)

	if config.logJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func portRange(config *CLIConfig) transport.PortRange {
	return transport.PortRange{Start: uint16(config.startPort), Attempts: config.attempts}
}

// createServerOptions converts CLI configuration to server options.
func createServerOptions(config *CLIConfig) *peer.ServerOptions {
	opts := peer.NewServerOptions()
	opts.RootDir = config.rootDir
	opts.Host = config.host
	opts.Ports = portRange(config)
	opts.MaxConnections = config.maxConns
	opts.IdleTimeout = config.idleTimeout
	opts.ShutdownTimeout = config.shutdown
	opts.BufferSize = config.bufferSize
	opts.MinFreeBytes = config.minFree
	opts.Notifier = newListingNotifier(config.rootDir)
	return opts
}

// createClientOptions converts CLI configuration to client options.
func createClientOptions(config *CLIConfig) *peer.ClientOptions {
	opts := peer.NewClientOptions()
	if config.host != "" {
		opts.Host = config.host
	}
	opts.Ports = portRange(config)
	opts.AttemptTimeout = config.attemptTimeout
	opts.IOTimeout = config.idleTimeout
	opts.Proxy = config.proxy
	opts.BufferSize = config.bufferSize
	return opts
}

// listFiles returns every file beneath dir, relative to it, sorted.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".part") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

// newListingNotifier re-reads the server directory and logs its contents
// whenever a request changed it.
func newListingNotifier(dir string) file.ChangeNotifier {
	return file.NotifierFunc(func() {
		files, err := listFiles(dir)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "listingNotifier",
				"dir":      dir,
				"error":    err.Error(),
			}).Warn("Failed to list server directory")
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "listingNotifier",
			"count":    len(files),
			"files":    files,
		}).Info("Server directory changed")
	})
}

// setupSignalHandling sets up graceful shutdown on interrupt signals.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\n🛑 Received signal %v, shutting down...\n", sig)
		cancel()
	}()
}

// newProgressBar returns a byte progress bar, or nil when progress output
// is disabled. The maximum is updated once the size is known.
func newProgressBar(config *CLIConfig, size int64, description string) *progressbar.ProgressBar {
	if !config.progress {
		return nil
	}
	return progressbar.DefaultBytes(size, description)
}

// progressWriter avoids handing a typed nil to the client.
func progressWriter(bar *progressbar.ProgressBar) io.Writer {
	if bar == nil {
		return nil
	}
	return bar
}

func runServe(ctx context.Context, config *CLIConfig) error {
	server, err := peer.NewServer(createServerOptions(config))
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("📂 Serving %s on port %d\n", server.Root().Path(), server.Port())
	<-ctx.Done()
	return server.Stop()
}

func runStore(ctx context.Context, client *peer.Client, config *CLIConfig) error {
	local := config.args[0]
	name := ""
	if len(config.args) > 1 {
		name = config.args[1]
	}

	info, err := os.Stat(local)
	if err != nil {
		return err
	}
	bar := newProgressBar(config, info.Size(), "Uploading "+filepath.Base(local))
	n, err := client.StoreFile(ctx, local, name, progressWriter(bar))
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	fmt.Printf("✅ Stored %s (%d bytes)\n", local, n)
	return nil
}

func runRetrieve(ctx context.Context, client *peer.Client, config *CLIConfig) error {
	name := config.args[0]
	dest := "."
	if len(config.args) > 1 {
		dest = config.args[1]
	}

	bar := newProgressBar(config, -1, "Downloading "+name)
	n, err := client.RetrieveFile(ctx, name, dest, progressWriter(bar))
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	fmt.Printf("✅ Retrieved %s (%d bytes)\n", name, n)
	return nil
}

// run executes the configured command and returns its error.
func run(ctx context.Context, config *CLIConfig) error {
	if config.command == "serve" {
		return runServe(ctx, config)
	}

	client, err := peer.NewClient(createClientOptions(config))
	if err != nil {
		return err
	}

	// Requests run on their own goroutine; an interrupt stops waiting for
	// them without corrupting the server side.
	done := make(chan error, 1)
	client.Go(ctx, func(ctx context.Context, c *peer.Client) error {
		switch config.command {
		case "store":
			return runStore(ctx, c, config)
		case "retrieve":
			return runRetrieve(ctx, c, config)
		case "move":
			if err := c.Relocate(ctx, config.args[0], config.args[1]); err != nil {
				return err
			}
			fmt.Printf("✅ Moved %s to %s\n", config.args[0], config.args[1])
			return nil
		case "delete":
			if err := c.Remove(ctx, config.args[0]); err != nil {
				return err
			}
			fmt.Printf("✅ Deleted %s\n", config.args[0])
			return nil
		default:
			return fmt.Errorf("unknown command %q", config.command)
		}
	}, func(err error) { done <- err })

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// main is the entry point for filepeer.
func main() {
	cliConfig, err := parseCLIFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(2)
	}

	if cliConfig.help {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	if err := configureLogging(cliConfig, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if err := run(ctx, cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s failed: %v\n", cliConfig.command, err)
		os.Exit(1)
	}
}
