package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"peerdrop/internal/config"
	"peerdrop/internal/session"
	"peerdrop/internal/store"
	"peerdrop/internal/ui"
)

var (
	cfg     *config.Config
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "peerdrop",
	Short: "peerdrop - direct P2P file transfer over WebRTC data channels",
	Long: `peerdrop transfers a single file directly between two machines over a
WebRTC data channel, without a relay or rendezvous server.

Usage:
  Send a file:    peerdrop send --file /path/to/file
  Receive a file: peerdrop receive --dst /path/to/directory

Both peers exchange their connection blobs manually (copy-paste over any
side channel) to establish the connection.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}

		initConfig()

		cfg = config.Load(viper.GetViper())
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.peerdrop.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	viper.SetEnvPrefix("PEERDROP")
	viper.AutomaticEnv()
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			logrus.Warnf("Could not find home directory: %v", err)
			return
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".peerdrop")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logrus.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	return ctx
}

// openStore opens the transfer history database. History is best effort:
// a broken database is logged and skipped, never fatal.
func openStore() *store.Store {
	if cfg.Store.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		logrus.Warnf("Transfer history unavailable: %v", err)
		return nil
	}
	st, err := store.OpenPath(cfg.Store.Path)
	if err != nil {
		logrus.Warnf("Transfer history unavailable: %v", err)
		return nil
	}
	return st
}

// recordHistory writes the terminal state of a transfer to the history
// database.
func recordHistory(st *store.Store, direction string, startedAt time.Time, out ui.Outcome) {
	if st == nil || out.Progress == nil {
		return
	}

	var status string
	switch out.Progress.Status {
	case session.StatusCompleted:
		status = "completed"
	case session.StatusCancelled:
		status = "cancelled"
	case session.StatusErrored:
		status = "errored"
	default:
		return
	}

	err := st.RecordTransfer(store.TransferRecord{
		Direction:  direction,
		FileName:   out.Progress.FileName,
		FileSize:   out.Progress.FileSize,
		Bytes:      out.Progress.Bytes,
		Status:     status,
		SavedPath:  out.Progress.SavedPath,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	})
	if err != nil {
		logrus.Warnf("Could not record transfer history: %v", err)
	}
}

// waitChannelOpen drains events until the data channel opens. It returns an
// error if the session ends first.
func waitChannelOpen(ctx context.Context, events <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("session ended before the data channel opened")
			}
			if ev.Phase == session.PhaseChannelOpen {
				return nil
			}
			if ev.Phase.Terminal() {
				return fmt.Errorf("session ended in phase %s before the data channel opened", ev.Phase)
			}
		}
	}
}
