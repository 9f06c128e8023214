package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/service"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s -> %s\n", event.Step, event.Op, event.Outcome)
		}
	}
	return buf.String()
}

// viewFunc reads one piece of final state. key has already been
// reference-resolved.
type viewFunc func(ctx context.Context, svc *service.Service, key string) (any, error)

// views are the state readers final_state assertions can name.
// ecosystem_daily refreshes its row before reading it.
var views = map[string]viewFunc{
	"progress": func(ctx context.Context, svc *service.Service, key string) (any, error) {
		return svc.GetProgress(ctx, key)
	},
	"consent": func(ctx context.Context, svc *service.Service, key string) (any, error) {
		return svc.GetConsent(ctx, key)
	},
	"session": func(ctx context.Context, svc *service.Service, key string) (any, error) {
		return svc.GetSession(ctx, key)
	},
	"ecosystem_daily": func(ctx context.Context, svc *service.Service, key string) (any, error) {
		return svc.ExportEcosystemUsage(ctx, key)
	},
	"stage_projections": func(ctx context.Context, svc *service.Service, key string) (any, error) {
		return svc.ListStageProjections(ctx, key)
	},
	"deliveries": func(ctx context.Context, svc *service.Service, key string) (any, error) {
		return svc.ListDeliveries(ctx, key, 0)
	},
	"subscriptions": func(ctx context.Context, svc *service.Service, _ string) (any, error) {
		return svc.ListWebhookSubscriptions(ctx)
	},
}

// Views returns the names final_state assertions accept, sorted.
func Views() []string {
	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// evaluateAssertions runs every assertion and returns the failure
// messages.
func (h *Harness) evaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = h.assertFinalState(ctx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return errs
}

func matchesEvent(event TraceEvent, a Assertion) bool {
	return event.Op == a.Op && (a.Outcome == "" || event.Outcome == a.Outcome)
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matchesEvent(event, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s with outcome %q", a.Op, a.Outcome),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of ops appear in
// order. Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = i + 1
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesEvent(event, a) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertFinalState(ctx context.Context, a Assertion) error {
	key, err := h.resolve(a.Key)
	if err != nil {
		return err
	}
	keyStr, _ := key.(string)

	value, err := views[a.View](ctx, h.svc, keyStr)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("view %s for %q", a.View, keyStr),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}
	doc, err := normalize(value)
	if err != nil {
		return err
	}

	if a.Count != nil {
		list, _ := doc.([]any)
		if len(list) != *a.Count {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%d rows in %s", *a.Count, a.View),
				Actual:   fmt.Sprintf("%d rows", len(list)),
			}
		}
	}
	if len(a.Expect) == 0 {
		return nil
	}

	expected, err := h.resolve(a.Expect)
	if err != nil {
		return err
	}
	if path, ok := matchSubset(doc, expected); !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s matching %v", a.View, a.Expect),
			Actual:   fmt.Sprintf("mismatch at %s", path),
		}
	}
	return nil
}

// matchSubset reports whether actual contains expected. Objects match
// when every expected key matches; arrays must match element-wise;
// numbers compare by value regardless of their Go type. On mismatch the
// offending path is returned.
func matchSubset(actual, expected any) (string, bool) {
	return matchAt("$", actual, expected)
}

func matchAt(path string, actual, expected any) (string, bool) {
	if exp, ok := payload.AsObject(expected); ok {
		act, ok := payload.AsObject(actual)
		if !ok {
			return path, false
		}
		for _, k := range payload.SortedKeys(exp) {
			av, present := act[k]
			if !present {
				return path + "." + k, false
			}
			if p, ok := matchAt(path+"."+k, av, exp[k]); !ok {
				return p, false
			}
		}
		return "", true
	}

	if exp, ok := expected.([]any); ok {
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return path, false
		}
		for i := range exp {
			if p, ok := matchAt(fmt.Sprintf("%s[%d]", path, i), act[i], exp[i]); !ok {
				return p, false
			}
		}
		return "", true
	}

	if ef, ok := payload.AsNumber(expected); ok {
		af, ok := payload.AsNumber(actual)
		return path, ok && af == ef
	}
	return path, reflect.DeepEqual(actual, expected)
}
