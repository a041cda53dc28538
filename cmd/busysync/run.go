package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"

	"github.com/beekhof/busysync/internal/auth"
	"github.com/beekhof/busysync/internal/calendar"
	"github.com/beekhof/busysync/internal/config"
	"github.com/beekhof/busysync/internal/logging"
	"github.com/beekhof/busysync/internal/reconcile"
	"github.com/beekhof/busysync/internal/schedule"
)

// newScheduler loads the configuration, connects to both calendars and
// returns a scheduler whose job is one reconciliation pass.
func newScheduler(ctx context.Context, opts *options) (*schedule.Scheduler, error) {
	log := logging.FromContext(ctx)

	cfg, err := config.LoadConfig(opts.configFile, opts.overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var oauthConfig *oauth2.Config
	if cfg.UsesGoogle() {
		if oauthConfig, err = auth.LoadOAuthConfig(cfg.GoogleCredentialsPath); err != nil {
			return nil, fmt.Errorf("failed to load Google credentials: %w", err)
		}
	}

	source, err := newGateway(ctx, cfg.Source, oauthConfig, opts.noBrowser)
	if err != nil {
		return nil, fmt.Errorf("source calendar: %w", err)
	}
	target, err := newGateway(ctx, cfg.Target, oauthConfig, opts.noBrowser)
	if err != nil {
		return nil, fmt.Errorf("target calendar: %w", err)
	}
	if opts.dryRun {
		log.Warn().Msg("Dry run: no changes will be made to the target calendar")
		target = calendar.NewDryRun(target)
	}

	reconciler, err := reconcile.New(source, target, cfg.Options())
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("source_provider", cfg.Source.Provider).
		Str("target_provider", cfg.Target.Provider).
		Str("strategy", cfg.Strategy).
		Int("look_ahead_days", cfg.LookAheadDays).
		Msg("Configuration loaded")

	return schedule.New(cfg.Schedule, cfg.Timeout(), passJob(reconciler), log)
}

// passJob adapts a Reconciler to a scheduled job.
func passJob(r *reconcile.Reconciler) schedule.Job {
	return func(ctx context.Context) error {
		_, err := r.Run(ctx)
		if errors.Is(err, reconcile.ErrRunInProgress) {
			logging.FromContext(ctx).Warn().Msg("Previous pass still running, skipping")
			return nil
		}
		return err
	}
}

func newGateway(ctx context.Context, cal config.Calendar, oauthConfig *oauth2.Config, noBrowser bool) (calendar.Gateway, error) {
	switch cal.Provider {
	case config.ProviderGoogle:
		store := auth.NewFileTokenStore(cal.TokenPath)
		var httpClient *http.Client
		var err error
		if noBrowser {
			httpClient, err = auth.GetAuthenticatedClientWithReader(ctx, oauthConfig, store, os.Stdin)
		} else {
			httpClient, err = auth.GetAuthenticatedClient(ctx, oauthConfig, store)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
		client, err := calendar.NewGoogleClient(ctx, httpClient)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderCalDAV:
		client, err := calendar.NewCalDAVClient(nil, cal.ServerURL, cal.Username, cal.Password)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cal.Provider)
	}
}
