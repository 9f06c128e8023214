package webhook

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/sadhana/internal/store"
)

// ErrSimulatedFailure is what SimulatedDeliverer returns for targets and
// payloads marked to fail.
var ErrSimulatedFailure = errors.New("simulated_delivery_failure")

// ForceFailKey in a delivery payload makes SimulatedDeliverer fail it.
const ForceFailKey = "force_webhook_fail"

// Deliverer sends one delivery to its target. A nil error means the
// target accepted it.
type Deliverer interface {
	Deliver(ctx context.Context, d store.DueDelivery) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, d store.DueDelivery) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, d store.DueDelivery) error {
	return f(ctx, d)
}

// SimulatedDeliverer accepts every delivery except those whose target URL
// contains "fail" (case-insensitive) or whose payload sets
// force_webhook_fail to true. No network I/O is performed.
type SimulatedDeliverer struct{}

// Deliver implements Deliverer.
func (SimulatedDeliverer) Deliver(_ context.Context, d store.DueDelivery) error {
	if strings.Contains(strings.ToLower(d.TargetURL), "fail") {
		return ErrSimulatedFailure
	}
	if force, ok := d.Payload.Bool(ForceFailKey); ok && force {
		return ErrSimulatedFailure
	}
	return nil
}
