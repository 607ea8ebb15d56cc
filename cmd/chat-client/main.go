package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"registerkaro-chat/internal/logging"
)

var (
	// Global flags
	verbose     bool
	logFile     string
	backendURL  string
	wsURL       string
	stateDir    string
	dbURL       string
	idleTimeout time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chat-client",
	Short: "Chat with the RegisterKaro assistant from a terminal",
	Long: `chat-client opens the realtime chat channel to the RegisterKaro assistant
backend and renders the conversation in the terminal.

Messages typed while offline are queued and sent once the channel is up.
Your visitor and device ids are kept in the state directory (or DB_URL) so
the assistant recognises you next time.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(logging.Options{Level: level, OutputPath: logFile})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Forget the stored visitor and device ids",
	RunE:  runForget,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Assistant backend URL (or set REGISTERKARO_BACKEND_URL)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws-url", "", "Explicit channel URL (or set REGISTERKARO_WS_URL)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory for the stored identity (or set REGISTERKARO_STATE_DIR)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "Keep the identity in this database instead (or set DB_URL)")
	rootCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "Tell the assistant you went quiet after this long (or set REGISTERKARO_IDLE_TIMEOUT)")

	rootCmd.AddCommand(forgetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
