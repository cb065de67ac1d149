package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/app"
	"github.com/orchestra-mcp/chatsync/src/types"
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Realtime chat client over STOMP",
	RunE:  runChat,
}

var (
	flagServerURL string
	flagAPIURL    string
	flagToken     string
	flagUserID    string
	flagUsername  string
	flagFullName  string
	flagPort      int
	flagNoBridge  bool
	flagDebug     bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", "", "STOMP WebSocket URL (overrides CHAT_SERVER_URL)")
	flags.StringVar(&flagAPIURL, "api-url", "", "chat REST base URL (overrides CHAT_API_URL)")
	flags.StringVar(&flagToken, "token", os.Getenv("CHAT_TOKEN"), "bearer token (from env CHAT_TOKEN if set)")
	flags.StringVar(&flagUserID, "user-id", os.Getenv("CHAT_USER_ID"), "signed-in user id")
	flags.StringVar(&flagUsername, "username", os.Getenv("CHAT_USERNAME"), "signed-in username")
	flags.StringVar(&flagFullName, "full-name", "", "signed-in full name")
	flags.IntVar(&flagPort, "port", -1, "optional local status HTTP port (negative to disable)")
	flags.BoolVar(&flagNoBridge, "no-bridge", false, "do not mirror events through Redis")
	flags.BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat command")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := zerolog.InfoLevel
	if flagDebug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	cfg := config.ConfigFromEnv()
	if flagServerURL != "" {
		cfg.ServerURL = flagServerURL
	}
	if flagAPIURL != "" {
		cfg.APIURL = flagAPIURL
	}

	session := types.Session{
		Token: flagToken,
		User:  types.User{ID: flagUserID, Username: flagUsername, FullName: flagFullName},
	}
	if session.User.FullName == "" {
		session.User.FullName = session.User.Username
	}

	var opts []app.Option
	if flagNoBridge {
		opts = append(opts, app.WithBridgeFactory(nil))
	}
	a := app.New(cfg, logger, opts...)
	if err := a.Activate(session); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	defer func() {
		if err := a.Deactivate(); err != nil {
			logger.Error().Err(err).Msg("deactivate failed")
		}
	}()

	if flagPort >= 0 {
		status := fiber.New()
		a.RegisterRoutes(status)
		go func() {
			addr := ":" + strconv.Itoa(flagPort)
			if err := status.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
				logger.Error().Err(err).Str("addr", addr).Msg("status server stopped")
			}
		}()
		defer func() { _ = status.Shutdown() }()
	}

	r := newREPL(a.Service(), cmd.InOrStdin(), cmd.OutOrStdout())
	return r.run(ctx)
}
