package workers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/application/registry"
	"github.com/finlake/finsync/internal/application/tokens"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
)

// DailySyncWorker handles daily_previous_day_sync: one high-priority task per
// credentialed integration covering yesterday 00:00 to today 00:00 UTC. The
// serial high-priority lane drains them one at a time.
type DailySyncWorker struct {
	integrations org.IntegrationRepository
	tasks        synctask.TaskRepository
	registry     *registry.Registry
	logs         synctask.LogRepository
	clock        shared.Clock
	logger       zerolog.Logger
}

// NewDailySyncWorker creates the worker.
func NewDailySyncWorker(integrations org.IntegrationRepository, tasks synctask.TaskRepository, reg *registry.Registry, logs synctask.LogRepository, clock shared.Clock, logger zerolog.Logger) *DailySyncWorker {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &DailySyncWorker{
		integrations: integrations,
		tasks:        tasks,
		registry:     reg,
		logs:         logs,
		clock:        clock,
		logger:       logger.With().Str("component", "daily_sync").Logger(),
	}
}

// Run creates the previous-day catch-up tasks.
func (w *DailySyncWorker) Run(ctx context.Context) error {
	integrations, err := w.integrations.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list integrations: %w", err)
	}

	today := midnightUTC(w.clock.Now())
	yesterday := today.AddDate(0, 0, -1)

	created := 0
	for _, integration := range integrations {
		if !integration.HasCredentials() || !w.registry.Supported(integration.Kind) {
			continue
		}
		until := today
		task := &synctask.HighPriorityTask{
			IntegrationID: integration.ID,
			Kind:          integration.Kind,
			SinceDate:     yesterday,
			UntilDate:     &until,
		}
		if err := w.tasks.Create(ctx, task); err != nil {
			w.logger.Error().Err(err).Int64("integration_id", integration.ID).Msg("failed to create daily task")
			continue
		}
		created++
	}

	w.logger.Info().Int("created", created).Msg("daily previous-day sync tasks created")
	event := &synctask.LogEvent{
		TaskName: dispatch.TaskDailyPreviousDaySync,
		Status:   synctask.EventDispatched,
		Detail:   fmt.Sprintf("created %d tasks for %s", created, yesterday.Format("2006-01-02")),
	}
	if err := w.logs.Append(ctx, event); err != nil {
		w.logger.Warn().Err(err).Msg("failed to append sync log event")
	}
	return nil
}

// TokenRefreshWorker handles refresh_provider_tokens: proactive rotation of
// tokens expiring inside the safety window, so imports rarely hit a 401.
type TokenRefreshWorker struct {
	integrations org.IntegrationRepository
	tokens       *tokens.Manager
	logger       zerolog.Logger
}

// NewTokenRefreshWorker creates the worker.
func NewTokenRefreshWorker(integrations org.IntegrationRepository, manager *tokens.Manager, logger zerolog.Logger) *TokenRefreshWorker {
	return &TokenRefreshWorker{
		integrations: integrations,
		tokens:       manager,
		logger:       logger.With().Str("component", "token_refresh").Logger(),
	}
}

// Run refreshes every expiring token. Per-integration failures are logged by
// the manager; only the listing itself can fail the job.
func (w *TokenRefreshWorker) Run(ctx context.Context) error {
	integrations, err := w.integrations.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list integrations: %w", err)
	}

	refreshed, err := w.tokens.RefreshExpiring(ctx, integrations)
	if err != nil {
		w.logger.Warn().Err(err).Int("refreshed", refreshed).Msg("token refresh finished with errors")
		return nil
	}
	if refreshed > 0 {
		w.logger.Info().Int("refreshed", refreshed).Msg("tokens refreshed")
	}
	return nil
}
