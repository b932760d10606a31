// Command wordgrid-client is the desktop client for a wordgrid server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bodul/wordgrid/internal/client"
)

var (
	serverURL string
	userFlag  string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:          "wordgrid-client",
	Short:        "Type words into the shared grid",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "wordgrid server URL")
	rootCmd.Flags().StringVar(&userFlag, "user", "", "user id (default: stored in the user config dir)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	userID := userFlag
	if userID == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate config dir: %w", err)
		}
		userID, err = loadOrCreateUserID(dir)
		if err != nil {
			return err
		}
	}
	logger.Debug("identity", zap.String("user", userID))

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	conn, err := client.Dial(ctx, serverURL, logger.Named("conn"))
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	game := newGame(serverURL, conn, client.NewBoard(userID), logger)
	defer game.close()

	ebiten.SetWindowTitle("wordgrid")
	ebiten.SetWindowSize(screenW, screenH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	return ebiten.RunGame(game)
}
