package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/application/registry"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
)

// PipelineWorker handles sync_integration_pipeline jobs: the full module set
// of one integration, run sequentially with a fixed pause between modules to
// smooth provider rate limits. A module failure aborts the remainder of this
// pipeline; sibling pipelines for other integrations are unaffected.
type PipelineWorker struct {
	integrations org.IntegrationRepository
	registry     *registry.Registry
	logs         synctask.LogRepository
	clock        shared.Clock
	pause        time.Duration
	logger       zerolog.Logger
}

// NewPipelineWorker creates the worker. pause is the inter-module gap.
func NewPipelineWorker(integrations org.IntegrationRepository, reg *registry.Registry, logs synctask.LogRepository, clock shared.Clock, pause time.Duration, logger zerolog.Logger) *PipelineWorker {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &PipelineWorker{
		integrations: integrations,
		registry:     reg,
		logs:         logs,
		clock:        clock,
		pause:        pause,
		logger:       logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes one pipeline job. Failures land in the log stream; the job is
// not retried because the next periodic dispatch covers the same window.
func (w *PipelineWorker) Run(ctx context.Context, args dispatch.IntegrationPipelineArgs) error {
	logger := w.logger.With().Int64("integration_id", args.IntegrationID).Logger()

	integration, err := w.integrations.FindByID(ctx, args.IntegrationID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Warn().Msg("integration deleted since dispatch, skipping")
			return nil
		}
		logger.Error().Err(err).Msg("failed to load integration")
		return nil
	}
	if !integration.HasCredentials() {
		logger.Warn().Msg("integration lost its credentials since dispatch, skipping")
		return nil
	}

	importer, err := w.registry.Importer(*integration, args.Since, args.Until, nil)
	if err != nil {
		logger.Error().Err(err).Msg("no pipeline for integration")
		return nil
	}

	event := &synctask.LogEvent{
		TaskName: dispatch.TaskIntegrationPipeline,
		Provider: importer.Kind(),
		OrgID:    integration.OrgID,
	}

	total := 0
	for idx, module := range importer.Modules() {
		if idx > 0 && w.pause > 0 {
			w.clock.Sleep(w.pause)
		}
		if err := ctx.Err(); err != nil {
			event.Status = synctask.EventFailed
			event.Detail = fmt.Sprintf("cancelled before %s after %d rows", module.Name, total)
			w.appendEvent(ctx, event)
			return nil
		}

		n, err := module.Run(ctx)
		total += n
		if err != nil {
			logger.Error().Err(err).Str("module", module.Name).Msg("module failed, aborting pipeline")
			event.Status = synctask.EventFailed
			event.Detail = fmt.Sprintf("module %s failed after %d rows: %v", module.Name, total, err)
			w.appendEvent(ctx, event)
			return nil
		}
		logger.Debug().Str("module", module.Name).Int("rows", n).Msg("module complete")
	}

	event.Status = synctask.EventSuccess
	event.Detail = fmt.Sprintf("%d rows", total)
	w.appendEvent(ctx, event)
	return nil
}

func (w *PipelineWorker) appendEvent(ctx context.Context, event *synctask.LogEvent) {
	if err := w.logs.Append(context.WithoutCancel(ctx), event); err != nil {
		w.logger.Warn().Err(err).Msg("failed to append sync log event")
	}
}
