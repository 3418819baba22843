package app

import (
	"context"
	"fmt"
	"time"

	"github.com/t2t2-app/t2t2/internal/bot"
	"github.com/t2t2-app/t2t2/internal/config"
	"github.com/t2t2-app/t2t2/internal/core"
	"github.com/t2t2-app/t2t2/internal/core/cache"
	db "github.com/t2t2-app/t2t2/internal/core/database"
	"github.com/t2t2-app/t2t2/internal/core/llm"
	"github.com/t2t2-app/t2t2/internal/core/objectstore"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/services"
)

type App struct {
	Store    db.Store
	Cache    cache.ProgressCache
	Media    objectstore.MediaStore
	Server   *Server
	Bot      *bot.Bot
	Log      *logger.Logger
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Info("database initialized and bootstrapped")

	progressCache, err := newProgressCache(cfg, log)
	if err != nil {
		return nil, err
	}

	var media objectstore.MediaStore
	if cfg.AwsAccessKey != "" {
		media, err = objectstore.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		log.Info("media store initialized", "bucket", cfg.BucketName)
	} else {
		log.Warn("no AWS credentials, media storage disabled")
	}

	embedder, llmProvider, err := newProviders(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("AI providers initialized", "provider", cfg.AIProvider, "embed_model", cfg.EmbedModel)

	chunker := services.NewSmartChunker(services.ChunkingConfig{
		MaxChunkSize:   cfg.MaxChunkSize,
		GroupWindow:    time.Duration(cfg.GroupWindowSeconds) * time.Second,
		ResponseWindow: time.Duration(cfg.ResponseWindowSeconds) * time.Second,
	})

	embedSvc := services.NewEmbeddingService(store, embedder, chunker, log)
	ragSvc := services.NewRAGService(store, embedder, llmProvider, log)
	indexingSvc := services.NewIndexingService(store, progressCache, embedSvc, log)
	ingestSvc := services.NewIngestService(store, media, log)

	server := NewServer(cfg, store, ragSvc, indexingSvc, ingestSvc, log)

	var tgBot *bot.Bot
	if cfg.BotToken != "" {
		tgBot, err = bot.New(cfg.BotToken, store, ragSvc, indexingSvc, log)
		if err != nil {
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
	} else {
		log.Warn("no bot token, telegram bot disabled")
	}

	return &App{
		Store:  store,
		Cache:  progressCache,
		Media:  media,
		Server: server,
		Bot:    tgBot,
		Log:    log,
	}, nil
}

func newProgressCache(cfg *config.Config, log *logger.Logger) (cache.ProgressCache, error) {
	if cfg.RedisAddr == "" {
		log.Warn("no REDIS_ADDR, using in-process progress cache")
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	log.Info("redis connected", "addr", cfg.RedisAddr)
	return c, nil
}

func newProviders(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, core.LLMProvider, error) {
	switch cfg.AIProvider {
	case "openai":
		embedder, err := llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("init openai embedder: %w", err)
		}
		provider, err := llm.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, nil, fmt.Errorf("init openai llm: %w", err)
		}
		return embedder, provider, nil
	case "gemini":
		embedder, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini embedder: %w", err)
		}
		provider, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini llm: %w", err)
		}
		return embedder, provider, nil
	default:
		return nil, nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
}

func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
