package service

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/sadhana/internal/experiment"
	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/projection"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/telemetry"
)

// Export log identity of business signal exports.
const (
	ExportBusinessSignalsDaily = "business_signals_daily"
	ExportAdapterContent       = "content_partner_export"
)

// RecomputeResult reports a full projection rebuild.
type RecomputeResult struct {
	DaysRecomputed int `json:"days_recomputed"`
}

// RecomputeProjections rebuilds every daily row from source tables.
// Concurrent callers share one rebuild.
func (s *Service) RecomputeProjections(ctx context.Context) (RecomputeResult, error) {
	v, err, shared := s.recompute.Do("all", func() (any, error) {
		start := time.Now()
		var days int
		err := s.run(ctx, "RecomputeProjections", func(ctx context.Context, tx *store.Tx) error {
			var err error
			days, err = s.projections.RecomputeAll(ctx, tx, s.now())
			return err
		})
		if err != nil {
			return RecomputeResult{}, err
		}
		telemetry.RecordProjectionRefresh("full", time.Since(start))
		return RecomputeResult{DaysRecomputed: days}, nil
	})
	if shared {
		s.logger.Debug("projection recompute shared")
	}
	if err != nil {
		return RecomputeResult{}, err
	}
	return v.(RecomputeResult), nil
}

// ExportBusinessSignals refreshes and returns the business row for
// dateKey, or the latest row when dateKey is empty, and logs the export.
func (s *Service) ExportBusinessSignals(ctx context.Context, dateKey string) (store.BusinessDaily, error) {
	var row store.BusinessDaily
	err := s.run(ctx, "ExportBusinessSignals", func(ctx context.Context, tx *store.Tx) error {
		now := s.now()
		key, err := exportDate(dateKey, func() (string, error) {
			latest, err := tx.BusinessDailyOn(ctx, "")
			return latest.DateKey, err
		})
		if err != nil {
			return err
		}
		if err := s.refresh(ctx, tx, now, key); err != nil {
			return err
		}
		if _, err := tx.InsertExportLog(ctx, store.ExportLog{
			ExportType: ExportBusinessSignalsDaily,
			AdapterID:  ExportAdapterContent,
			Payload:    payload.Document{"date_key": key},
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		// The export itself counts toward the day's ecosystem usage.
		if err := s.refresh(ctx, tx, now, key); err != nil {
			return err
		}
		row, err = tx.BusinessDailyOn(ctx, key)
		return err
	})
	if err != nil {
		return store.BusinessDaily{}, err
	}
	return row, nil
}

// ExportEcosystemUsage refreshes and returns the ecosystem row for
// dateKey, or the latest row when dateKey is empty.
func (s *Service) ExportEcosystemUsage(ctx context.Context, dateKey string) (store.EcosystemDaily, error) {
	var row store.EcosystemDaily
	err := s.run(ctx, "ExportEcosystemUsage", func(ctx context.Context, tx *store.Tx) error {
		now := s.now()
		key, err := exportDate(dateKey, func() (string, error) {
			latest, err := tx.EcosystemDailyOn(ctx, "")
			return latest.DateKey, err
		})
		if err != nil {
			return err
		}
		if err := s.refresh(ctx, tx, now, key); err != nil {
			return err
		}
		row, err = tx.EcosystemDailyOn(ctx, key)
		return err
	})
	if err != nil {
		return store.EcosystemDaily{}, err
	}
	return row, nil
}

// exportDate resolves the date an export covers. An explicit date must be
// a valid date key; otherwise the latest stored row decides.
func exportDate(dateKey string, latest func() (string, error)) (string, error) {
	if dateKey != "" {
		if _, err := time.Parse(store.DateLayout, dateKey); err != nil {
			return "", invalid(ReasonInvalidRequest, []FieldError{{Field: "date_key", Reason: "must be YYYY-MM-DD"}},
				"invalid date key %q", dateKey)
		}
		return dateKey, nil
	}
	key, err := latest()
	if errors.Is(err, store.ErrNotFound) {
		return "", notFound(ReasonNoDailyRows, "no daily rows available")
	}
	return key, err
}

// BusinessCohorts returns the per-start-date cohort table.
func (s *Service) BusinessCohorts(ctx context.Context) (projection.CohortReport, error) {
	var out projection.CohortReport
	err := s.run(ctx, "BusinessCohorts", func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = projection.Cohorts(ctx, tx)
		return err
	})
	return out, err
}

// ExperimentInput holds the per-session outcome values of both arms.
type ExperimentInput struct {
	AdaptiveValues []float64 `json:"adaptive_values" validate:"required,min=2"`
	StaticValues   []float64 `json:"static_values" validate:"required,min=2"`
}

// CompareExperiment compares the adaptive arm against the static arm.
func (s *Service) CompareExperiment(_ context.Context, in ExperimentInput) (experiment.Comparison, error) {
	if err := validateInput(in); err != nil {
		return experiment.Comparison{}, err
	}
	out, err := experiment.CompareAdaptiveVsStatic(in.AdaptiveValues, in.StaticValues)
	if errors.Is(err, experiment.ErrTooFewSamples) {
		return experiment.Comparison{}, invalid(ReasonInvalidRequest, nil, "%v", err)
	}
	return out, err
}
