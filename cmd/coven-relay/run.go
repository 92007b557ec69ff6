// ABOUTME: run command: wires store, gateway client, renderers and router, then starts frontends
// ABOUTME: Each enabled frontend runs in an errgroup until SIGINT or SIGTERM

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-relay/internal/bot"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/gateway"
	"github.com/2389/coven-relay/internal/locale"
	"github.com/2389/coven-relay/internal/matrix"
	"github.com/2389/coven-relay/internal/render"
	"github.com/2389/coven-relay/internal/telegram"
)

const (
	dedupeTTL  = 10 * time.Minute
	dedupeSize = 10000
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the enabled chat frontends",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

// frontend is one chat network the relay listens on
type frontend struct {
	name string
	run  func(ctx context.Context, r *bot.Router) error
}

func runRelay(parent context.Context) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	printBanner()
	printInfo("Config", path)
	printInfo("Gateway", cfg.Gateway.URL)
	printInfo("Database", cfg.Database.Driver)
	fmt.Println()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	bundle, err := locale.Load(cfg.Locale.Dir)
	if err != nil {
		return fmt.Errorf("loading locale: %w", err)
	}

	providers, err := buildProviders(cfg.ProviderSpecs())
	if err != nil {
		return err
	}

	client := gateway.NewClient(gateway.ClientConfig{
		URL:         cfg.Gateway.URL,
		ReadTimeout: cfg.Gateway.ReadTimeout,
		MaxAttempts: cfg.Gateway.MaxAttempts,
		Backoff:     cfg.Gateway.Backoff,
	}, logger)

	svc := conversation.NewService(conversation.ServiceConfig{
		History:     db,
		Streamer:    client,
		Locale:      bundle,
		LimitWindow: cfg.Render.LimitWindow,
		Logger:      logger,
	})

	renderOpts := render.Options{
		MaxLength: cfg.Render.MaxLength,
		Locale:    bundle,
		Logger:    logger,
	}
	renderers, frontends, err := buildFrontends(cfg.Frontends, db, renderOpts, logger)
	if err != nil {
		return err
	}

	seen := dedupe.New(dedupeTTL, dedupeSize)
	defer seen.Close()

	router := bot.NewRouter(bot.Config{
		Store:     db,
		Service:   svc,
		Providers: providers,
		Renderers: renderers,
		Locale:    bundle,
		Dedupe:    seen,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range frontends {
		g.Go(func() error {
			if err := f.run(gctx, router); err != nil {
				return fmt.Errorf("%s frontend: %w", f.name, err)
			}
			return nil
		})
	}

	logger.Info("coven-relay running", "frontends", len(frontends), "providers", len(providers))
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("coven-relay stopped")
	return nil
}

func buildProviders(specs []gateway.ProviderSpec) ([]gateway.Provider, error) {
	providers := make([]gateway.Provider, 0, len(specs))
	for _, spec := range specs {
		p, err := gateway.NewProvider(spec)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", spec.Name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// buildFrontends connects every enabled frontend and gives each its own renderer.
func buildFrontends(cfg config.FrontendsConfig, answers render.AnswerSaver, opts render.Options, logger *slog.Logger) (map[string]*render.Renderer, []frontend, error) {
	renderers := make(map[string]*render.Renderer)
	var frontends []frontend

	if cfg.Telegram.Enabled {
		tg, err := telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			AllowedUsers: cfg.Telegram.AllowedUsers,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("starting telegram: %w", err)
		}
		renderers[telegram.Frontend] = render.New(tg.Transport(), answers, opts)
		frontends = append(frontends, frontend{
			name: telegram.Frontend,
			run:  func(ctx context.Context, r *bot.Router) error { return tg.Run(ctx, r) },
		})
	}

	if cfg.Matrix.Enabled {
		mx, err := matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			AccessToken:  cfg.Matrix.AccessToken,
			AllowedUsers: cfg.Matrix.AllowedUsers,
			AllowedRooms: cfg.Matrix.AllowedRooms,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("starting matrix: %w", err)
		}
		renderers[matrix.Frontend] = render.New(mx.Transport(), answers, opts)
		frontends = append(frontends, frontend{
			name: matrix.Frontend,
			run:  func(ctx context.Context, r *bot.Router) error { return mx.Run(ctx, r) },
		})
	}

	return renderers, frontends, nil
}
