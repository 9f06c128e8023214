package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/sadhana/internal/id"
	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/service"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/testutil"
)

// Harness runs scenarios against a service built over an in-memory store
// with a fake clock and sequential ids.
type Harness struct {
	svc    *service.Service
	clock  *testutil.FakeClock
	saved  map[string]any
	logger *slog.Logger
}

// Run executes a scenario in a fresh in-memory database and returns the
// result. An error means the scenario could not run at all; failed
// expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	start := scenario.Start
	if start == "" {
		start = DefaultStart
	}
	t0, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}
	prefix := scenario.IDPrefix
	if prefix == "" {
		prefix = "sc"
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := testutil.NewFakeClock(t0)
	svc, err := service.New(service.Options{
		Store:  st,
		Clock:  clk,
		IDs:    id.NewSequenceGenerator(prefix),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	h := &Harness{svc: svc, clock: clk, saved: map[string]any{}, logger: logger}
	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, msg := range h.evaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) error {
	for i, step := range flow {
		n := i + 1
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("flow step %d: %w", n, err)
			}
			h.clock.Advance(d)
		}

		args, err := h.resolve(step.Args)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", n, err)
		}
		argMap, _ := args.(map[string]any)

		value, opErr := ops[step.Op](ctx, h.svc, argMap)
		outcome := OutcomeOK
		var doc any
		if opErr != nil {
			var svcErr *service.Error
			if !errors.As(opErr, &svcErr) {
				return fmt.Errorf("flow step %d (%s): %w", n, step.Op, opErr)
			}
			outcome = svcErr.Reason
		} else {
			doc, err = normalize(value)
			if err != nil {
				return fmt.Errorf("flow step %d (%s): %w", n, step.Op, err)
			}
			if step.Save != "" {
				h.saved[step.Save] = doc
			}
		}
		result.AddTrace(n, step.Op, outcome, doc)

		h.checkExpect(n, step, outcome, doc, result)
		h.logger.Debug("scenario step", "step", n, "op", step.Op, "outcome", outcome)
	}
	return nil
}

func (h *Harness) checkExpect(n int, step Step, outcome string, doc any, result *Result) {
	want := OutcomeOK
	if step.Expect != nil && step.Expect.Error != "" {
		want = step.Expect.Error
	}
	if outcome != want {
		result.AddError(fmt.Sprintf("step %d (%s): outcome %s, expected %s", n, step.Op, outcome, want))
		return
	}
	if step.Expect == nil || len(step.Expect.Result) == 0 || outcome != OutcomeOK {
		return
	}
	expected, err := h.resolve(step.Expect.Result)
	if err != nil {
		result.AddError(fmt.Sprintf("step %d (%s): %v", n, step.Op, err))
		return
	}
	if path, ok := matchSubset(doc, expected); !ok {
		result.AddError(fmt.Sprintf("step %d (%s): result mismatch at %s", n, step.Op, path))
	}
}

// resolve replaces "$name" and "$name.field" strings with saved values.
func (h *Harness) resolve(v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, "$") {
			return val, nil
		}
		return h.lookup(val[1:])
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := h.resolve(elem)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := h.resolve(elem)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func (h *Harness) lookup(ref string) (any, error) {
	parts := strings.Split(ref, ".")
	cur, ok := h.saved[parts[0]]
	if !ok {
		return nil, fmt.Errorf("unknown reference $%s", ref)
	}
	if len(parts) == 1 {
		parts = append(parts, "id")
	}
	for _, field := range parts[1:] {
		obj, ok := payload.AsObject(cur)
		if !ok {
			return nil, fmt.Errorf("reference $%s: %s is not an object", ref, field)
		}
		if cur, ok = obj[field]; !ok {
			return nil, fmt.Errorf("reference $%s: no field %s", ref, field)
		}
	}
	return cur, nil
}

// normalize renders v the way it would appear on the wire.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	doc, err := payload.FromValue(map[string]any{"v": v})
	if err != nil {
		return nil, err
	}
	return doc["v"], nil
}
