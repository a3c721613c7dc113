package launchercli

import (
	"context"
	"fmt"
	"os"

	"github.com/jsturma/launcher-plugin/internal/localbackend/runner"
	"github.com/jsturma/launcher-plugin/internal/localbackend/store"
	"github.com/jsturma/launcher-plugin/internal/localbackend/tailer"
	"github.com/jsturma/launcher-plugin/internal/pluginrt"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/pkg/asyncrt"
	"github.com/jsturma/launcher-plugin/pkg/config"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// pluginVersion is this build's wire protocol version, checked against
// the launcher's Bootstrap request major version.
var pluginVersion = protocol.Version{Major: 1, Minor: 0, Patch: 0}

// run resolves configuration, wires the local backend into the plugin
// runtime, and drives it until the stdio channel closes or a termination
// signal arrives.
func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	initializeLogging(*cfg)
	log := logger.WithField("component", "main")

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("resolving hostname: %w", err)
	}

	// The backend gets its own worker pool for probe/reap scheduling,
	// distinct from the runtime's internal request-dispatch pool
	// (pluginrt.Config.PoolSize below) since the two serve unrelated
	// concerns.
	backendPool := asyncrt.New(int(cfg.ThreadPoolSize))

	st := store.New(cfg.ScratchPath, hostname, true)
	rn := runner.New(runner.Config{
		SandboxPath:     cfg.RsandboxPath,
		Hostname:        hostname,
		Unprivileged:    cfg.Unprivileged,
		SecureCookieKey: readSecureCookieKey(cfg.SecureCookieKeyPath, log),
	}, st, nil, backendPool)

	rt := pluginrt.New(os.Stdin, os.Stdout, rn, pluginrt.Config{
		Version:           pluginVersion,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		JobRetention:      cfg.JobExpiry(),
		MaxMessagePayload: cfg.MaxMessageSize,
		PoolSize:          int(cfg.ThreadPoolSize),
	})
	rn.SetNotifier(rt.Notifier())
	rt.SetHooks(st, tailer.NewFactory(hostname))

	log.Info("launcher-plugin starting",
		"pluginName", cfg.PluginName,
		"scratchPath", cfg.ScratchPath,
		"rsandboxPath", cfg.RsandboxPath)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		asyncrt.WaitForSignal(ctx)
		cancel()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("launcher-plugin stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("received shutdown signal, stopping")
		rt.Shutdown()
		return nil
	}
}

func initializeLogging(cfg config.Config) {
	level := cfg.Level()
	if cfg.EnableDebugLogging {
		level = logger.DEBUG
	}
	logger.SetLevel(level)

	if cfg.LoggingDir != "" {
		if err := os.MkdirAll(cfg.LoggingDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "launcher-plugin: failed to create logging dir %s, using stderr: %v\n", cfg.LoggingDir, err)
		}
	}
}

// readSecureCookieKey reads the secure-cookie-key file used to decrypt
// job launch passwords. A missing file leaves decryption disabled
// (runner.Config.SecureCookieKey nil) rather than failing startup: not
// every deployment submits jobs carrying an encrypted password.
func readSecureCookieKey(path string, log *logger.Logger) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read secure-cookie-key file", "path", path, "error", err)
		}
		return nil
	}
	return data
}
