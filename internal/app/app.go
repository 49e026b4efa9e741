// Package app wires configuration, provider, session store and use cases into
// a handler shared by the Lambda and dev server entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"studio-agent/handler"
	"studio-agent/internal/config"
	"studio-agent/internal/integrations/gemini"
	"studio-agent/internal/integrations/openai"
	"studio-agent/internal/integrations/paramstore"
	"studio-agent/internal/repository"
	"studio-agent/internal/usecase"
)

// tokenSource is satisfied by *paramstore.Client.
type tokenSource interface {
	GetToken(ctx context.Context, name string) (string, error)
}

type awsLoader struct {
	once sync.Once
	cfg  aws.Config
	err  error
}

func (l *awsLoader) load(ctx context.Context) (aws.Config, error) {
	l.once.Do(func() {
		l.cfg, l.err = awsconfig.LoadDefaultConfig(ctx)
	})
	return l.cfg, l.err
}

// New builds the request handler. The returned cleanup func releases the
// session store's connections and is safe to call when New fails.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*handler.Handler, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	cleanup := func() {}
	loader := &awsLoader{}

	var tokens tokenSource
	if cfg.TokenParam() != "" {
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, cleanup, fmt.Errorf("app: load AWS config: %w", err)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, cleanup, fmt.Errorf("app: create SSM client: %w", err)
		}
		tokens = ssmClient
	}

	llm, err := newProvider(cfg, tokens)
	if err != nil {
		return nil, cleanup, err
	}

	store, closeStore, err := newStore(ctx, cfg, loader)
	if err != nil {
		return nil, cleanup, err
	}
	cleanup = closeStore

	briefService, err := usecase.NewBriefService(llm, cfg.BriefModel, cfg.MaxFieldLength, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("app: create brief service: %w", err)
	}
	chatService, err := usecase.NewChatService(llm, store, cfg.ChatModel, cfg.MaxMessageLength, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("app: create chat service: %w", err)
	}

	h, err := handler.NewHandler(briefService, chatService,
		handler.WithAllowedOrigin(cfg.AllowedOrigin),
		handler.WithLogger(logger),
	)
	if err != nil {
		return nil, cleanup, fmt.Errorf("app: create handler: %w", err)
	}
	logger.Info("handler ready", "provider", cfg.Provider, "store", storeKind(cfg))
	return h, cleanup, nil
}

func newProvider(cfg config.Config, tokens tokenSource) (usecase.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		var getter gemini.TokenGetter
		if tokens != nil {
			getter = tokens
		}
		c, err := gemini.NewClient(cfg.GeminiAPIKey, getter, cfg.TokenParam(), gemini.WithTimeout(cfg.ProviderTimeout))
		if err != nil {
			return nil, fmt.Errorf("app: create gemini client: %w", err)
		}
		return c, nil
	case config.ProviderOpenAI:
		var getter openai.TokenGetter
		if tokens != nil {
			getter = tokens
		}
		opts := []openai.Option{openai.WithTimeout(cfg.ProviderTimeout)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		c, err := openai.NewClient(cfg.OpenAIAPIKey, getter, cfg.TokenParam(), opts...)
		if err != nil {
			return nil, fmt.Errorf("app: create openai client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("app: unknown provider %q", cfg.Provider)
	}
}

func newStore(ctx context.Context, cfg config.Config, loader *awsLoader) (usecase.SessionStore, func(), error) {
	noop := func() {}
	switch {
	case cfg.StateTable != "":
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("app: load AWS config: %w", err)
		}
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.SessionLockLease)
		if err != nil {
			return nil, noop, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return store, noop, nil
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, noop, fmt.Errorf("app: ping redis: %w", err)
		}
		store, err := repository.NewRedisStore(rdb, cfg.SessionTTL, cfg.SessionLockLease)
		if err != nil {
			_ = rdb.Close()
			return nil, noop, fmt.Errorf("app: create redis store: %w", err)
		}
		return store, func() { _ = rdb.Close() }, nil
	default:
		return repository.NewMemoryStore(), noop, nil
	}
}

func storeKind(cfg config.Config) string {
	switch {
	case cfg.StateTable != "":
		return "dynamodb"
	case cfg.RedisAddr != "":
		return "redis"
	default:
		return "memory"
	}
}
