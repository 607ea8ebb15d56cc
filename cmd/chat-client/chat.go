package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"registerkaro-chat/internal/chat"
	"registerkaro-chat/internal/checkout"
	"registerkaro-chat/internal/config"
	"registerkaro-chat/internal/db"
	"registerkaro-chat/internal/realtime"
	"registerkaro-chat/internal/store"
	"registerkaro-chat/internal/terminal"
)

const userAgent = "registerkaro-chat/1.0 (" + runtime.GOOS + "; terminal)"

// loadConfig reads the environment and applies flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.BackendURL = backendURL
	}
	if flags.Changed("ws-url") {
		cfg.WSURL = wsURL
	}
	if flags.Changed("state-dir") {
		cfg.StateDir = stateDir
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = dbURL
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = idleTimeout
	}
	return cfg, cfg.Validate()
}

// openDurableStore returns the KV for identity that outlives the process:
// the database when one is configured, else a file in the state directory.
func openDurableStore(cfg config.Config) (store.KV, func() error, error) {
	if cfg.DatabaseURL == "" {
		return store.NewFileStore(cfg.IdentityFile()), func() error { return nil }, nil
	}
	database, err := db.New(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store.NewDatabaseStore(database, cfg.StateScope), database.Close, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	durable, closeStore, err := openDurableStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	// Zero disables automatic reconnects in config; the manager reads
	// zero as its default, so translate.
	attempts := cfg.MaxReconnectAttempts
	if attempts == 0 {
		attempts = -1
	}
	env := realtime.DetectEnvironment(userAgent, true, true)
	url := cfg.ChannelURL()
	logger.Info("starting chat", zap.String("url", url), zap.String("platform", env.Platform))

	m := realtime.New(realtime.Config{
		URL:                  url,
		MaxReconnectAttempts: attempts,
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectMax:         cfg.ReconnectMax,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		Environment:          env,
	},
		realtime.WithLogger(logger.Named("realtime")),
		realtime.WithDialer(realtime.NewWebSocketDialer(cfg.HandshakeTimeout, cfg.WriteTimeout)),
		realtime.WithSessionStore(store.NewMemoryStore(0)),
		realtime.WithDurableStore(durable),
	)
	defer func() { _ = m.Close() }()

	gateway := checkout.NewTerminalGateway(os.Stdout, logger)
	sess := chat.NewSession(m, chat.WithLogger(logger), chat.WithGateway(gateway))
	defer sess.Close()

	host := terminal.New(sess, os.Stdin, os.Stdout,
		terminal.WithLogger(logger),
		terminal.WithResolver(gateway),
		terminal.WithIdleTimeout(cfg.IdleTimeout),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.Connect()
	return host.Run(ctx)
}

func runForget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	durable, closeStore, err := openDurableStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	for _, key := range []string{realtime.CookieIDKey, realtime.DeviceIDKey} {
		if err := durable.Remove(key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	logger.Info("stored identity removed")
	fmt.Fprintln(cmd.OutOrStdout(), "Stored identity removed.")
	return nil
}
