package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mai-chat/internal/conversation"
	"mai-chat/internal/integrations/backend"
)

type options struct {
	backendURL string
	timeout    time.Duration
	logLevel   string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{
		backendURL: os.Getenv("MAI_BACKEND_URL"),
		timeout:    envDuration("MAI_TIMEOUT", 60*time.Second),
		logLevel:   envString("LOG_LEVEL", "warn"),
	}

	cmd := &cobra.Command{
		Use:           "chat",
		Short:         "Chat with MAI from the terminal",
		Long:          "Interactive chat client. Type a message, /file <path> to share a text or PDF file, /history to print the conversation, /quit to leave.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.backendURL, "backend-url", opts.backendURL, "base URL of the chat backend (env MAI_BACKEND_URL)")
	flags.DurationVar(&opts.timeout, "timeout", opts.timeout, "per-request timeout (env MAI_TIMEOUT)")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "debug|info|warn|error (env LOG_LEVEL)")
	return cmd
}

func run(ctx context.Context, opts options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	logger := setupLogging(opts.logLevel)
	if strings.TrimSpace(opts.backendURL) == "" {
		return fmt.Errorf("chat: --backend-url or MAI_BACKEND_URL is required")
	}

	client, err := backend.NewClient(opts.backendURL, backend.WithHTTPClient(&http.Client{Timeout: opts.timeout}))
	if err != nil {
		return err
	}
	controller, err := conversation.NewController(client, logger)
	if err != nil {
		return err
	}

	s := newSession(controller, client, os.Stdin, os.Stdout)
	return s.run(ctx)
}

func setupLogging(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
