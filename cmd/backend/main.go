package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"mai-chat/handler"
	"mai-chat/internal/domain"
	"mai-chat/internal/integrations/openai"
	"mai-chat/internal/integrations/paramstore"
	"mai-chat/internal/integrations/pdftext"
	"mai-chat/internal/repository"
	"mai-chat/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	setupLogging(os.Getenv("LOG_LEVEL"))
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	maxContextItems := envInt("MAX_CONTEXT_ITEMS", 50)
	rateLimit := envInt("RATE_LIMIT_REQUESTS", 30)
	rateWindow := time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	maxUploadBytes := int64(envInt("MAX_UPLOAD_BYTES", domain.MaxUploadBytes))
	openaiBaseURL := os.Getenv("OPENAI_BASE_URL")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	quotaStore, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable, rateWindow)
	if err != nil {
		slog.Error("failed to create quota store", "err", err)
		os.Exit(1)
	}

	var openaiOpts []openai.Option
	if openaiBaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(openaiBaseURL))
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix, openaiOpts...)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Use cases ----
	chatService, err := usecase.NewChatService(ssmClient, openaiClient, quotaStore, paramPrefix, maxContextItems, rateLimit)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	extractService, err := usecase.NewExtractService(pdftext.New(maxUploadBytes), maxUploadBytes)
	if err != nil {
		slog.Error("failed to create extract service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService, extractService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("backend starting", "rate_limit", rateLimit, "rate_window", rateWindow.String(), "max_context_items", maxContextItems)
	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
