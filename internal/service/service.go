// Package service implements the boundary operations of the session
// telemetry API.
//
// Every operation runs in one store transaction. Writes refresh the daily
// projections for the dates they touched inside that same transaction,
// and fan out webhooks for the event types subscribers can follow.
//
// Failures the caller can act on are returned as *Error. Scorer and
// delivery failures are absorbed and never surface here.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/sadhana/internal/adaptation"
	"github.com/roach88/sadhana/internal/bhav"
	"github.com/roach88/sadhana/internal/clock"
	"github.com/roach88/sadhana/internal/id"
	"github.com/roach88/sadhana/internal/projection"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/telemetry"
	"github.com/roach88/sadhana/internal/webhook"
)

// Options wires a Service. Store is required; every other field has a
// working default.
type Options struct {
	Store       *store.Store
	Engine      *adaptation.Engine
	Registry    *bhav.Registry
	Projector   *bhav.Projector
	Projections *projection.Maintainer
	Webhooks    *webhook.Queue
	Clock       clock.Clock
	IDs         id.Generator
	Logger      *slog.Logger
}

// Service is the unit-of-work layer over the store.
//
// Thread-safety: safe for concurrent use. The store serializes writers
// at transaction begin; full recomputes are coalesced.
type Service struct {
	store       *store.Store
	engine      *adaptation.Engine
	registry    *bhav.Registry
	projector   *bhav.Projector
	projections *projection.Maintainer
	webhooks    *webhook.Queue
	clock       clock.Clock
	ids         id.Generator
	logger      *slog.Logger

	recompute singleflight.Group
}

// New builds a Service from opts.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = bhav.DefaultRegistry()
	}
	if opts.Engine == nil {
		opts.Engine = adaptation.NewEngine(adaptation.Config{}, nil, opts.Logger)
	}
	if opts.Projector == nil {
		opts.Projector = bhav.NewProjector(opts.Registry, nil, bhav.ProjectorConfig{}, opts.Logger)
	}
	if opts.Projections == nil {
		opts.Projections = projection.NewMaintainer(opts.Logger)
	}
	if opts.Webhooks == nil {
		opts.Webhooks = webhook.NewQueue(nil, webhook.DefaultConfig(), opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.IDs == nil {
		opts.IDs = id.UUIDv7Generator{}
	}
	return &Service{
		store:       opts.Store,
		engine:      opts.Engine,
		registry:    opts.Registry,
		projector:   opts.Projector,
		projections: opts.Projections,
		webhooks:    opts.Webhooks,
		clock:       opts.Clock,
		ids:         opts.IDs,
		logger:      opts.Logger,
	}, nil
}

// Registry returns the lineage registry in use.
func (s *Service) Registry() *bhav.Registry { return s.registry }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// run executes fn in one traced transaction.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, tx *store.Tx) error, attrs ...attribute.KeyValue) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service."+op, attrs...)
	defer func() { telemetry.EndSpan(span, err) }()

	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		return fn(ctx, tx)
	})
}

// refresh recomputes the daily rows for dateKeys.
func (s *Service) refresh(ctx context.Context, tx *store.Tx, now time.Time, dateKeys ...string) error {
	start := time.Now()
	if err := s.projections.RefreshDates(ctx, tx, dateKeys, now); err != nil {
		return fmt.Errorf("refresh projections: %w", err)
	}
	telemetry.RecordProjectionRefresh("incremental", time.Since(start))
	return nil
}

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// loadSession maps a missing session to a NOT_FOUND error.
func loadSession(ctx context.Context, tx *store.Tx, id string) (store.Session, error) {
	sess, err := tx.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, notFound(ReasonSessionNotFound, "session %s not found", id)
	}
	return sess, err
}

func loadUser(ctx context.Context, tx *store.Tx, id string) (store.User, error) {
	u, err := tx.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, notFound(ReasonUserNotFound, "user %s not found", id)
	}
	return u, err
}

func requireActive(sess store.Session) error {
	if sess.Status != store.SessionActive {
		return conflict(ReasonSessionNotActive, "session %s is not active", sess.ID)
	}
	return nil
}

// inputValidate checks the validate tags on operation inputs. Field
// errors use the JSON field name.
var inputValidate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}()

func validateInput(v any) error {
	err := inputValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate input: %w", err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		fields = append(fields, FieldError{Field: fe.Field(), Reason: "must satisfy " + reason})
	}
	return invalid(ReasonInvalidRequest, fields, "invalid request")
}

// lineageError maps registry errors to service errors.
func lineageError(err error) error {
	switch {
	case errors.Is(err, bhav.ErrUnknownLineage):
		return invalid(ReasonUnknownLineage, nil, "%v", err)
	case errors.Is(err, bhav.ErrUnsupportedProfile):
		return newError(CodeUnsupportedProfile, ReasonUnsupportedProfile, "%v", err)
	case errors.Is(err, bhav.ErrUnsupportedStage):
		return invalid(ReasonUnsupportedStage, nil, "%v", err)
	}
	return err
}
