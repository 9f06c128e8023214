package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/service"
)

// opFunc runs one operation with reference-resolved args.
type opFunc func(ctx context.Context, svc *service.Service, args map[string]any) (any, error)

var ops = map[string]opFunc{
	"create_user": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.CreateUserInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.CreateUser(ctx, in)
	},
	"set_consent": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.ConsentInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.SetConsent(ctx, stringArg(args, "user_id"), in)
	},
	"start_session": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.CreateSessionInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.CreateSession(ctx, in)
	},
	"ingest_event": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.EventInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		ev, dup, err := svc.IngestEvent(ctx, in)
		return withFlag(ev, "idempotency_hit", dup), err
	},
	"ingest_partner_event": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.PartnerEventInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		ev, dup, err := svc.IngestPartnerEvent(ctx, in)
		return withFlag(ev, "idempotency_hit", dup), err
	},
	"request_adaptation": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.AdaptationInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.RequestAdaptation(ctx, stringArg(args, "session_id"), in)
	},
	"end_session": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.EndSessionInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		sess, summary, err := svc.EndSession(ctx, stringArg(args, "session_id"), in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": sess, "summary": summary}, nil
	},
	"evaluate_bhav": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.EvaluateBhavInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.EvaluateBhav(ctx, stringArg(args, "session_id"), in)
	},
	"evaluate_stage": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.EvaluateStageInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.EvaluateStage(ctx, in)
	},
	"ingest_audio_chunk": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.AudioChunkInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		chunk, dup, proj, err := svc.IngestAudioChunk(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chunk": chunk, "projection": proj, "idempotency_hit": dup}, nil
	},
	"subscribe_webhook": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in service.SubscriptionInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.CreateWebhookSubscription(ctx, in)
	},
	"process_webhooks": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		var in struct {
			BatchSize int  `json:"batch_size"`
			Force     bool `json:"force"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.ProcessWebhooks(ctx, in.BatchSize, in.Force)
	},
	"recompute_projections": func(ctx context.Context, svc *service.Service, _ map[string]any) (any, error) {
		return svc.RecomputeProjections(ctx)
	},
	"export_business_signals": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		return svc.ExportBusinessSignals(ctx, stringArg(args, "date_key"))
	},
	"export_ecosystem_usage": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		return svc.ExportEcosystemUsage(ctx, stringArg(args, "date_key"))
	},
	"get_progress": func(ctx context.Context, svc *service.Service, args map[string]any) (any, error) {
		return svc.GetProgress(ctx, stringArg(args, "user_id"))
	},
}

// Ops returns the supported operation names, sorted.
func Ops() []string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeArgs maps args onto an input struct through its json tags.
func decodeArgs(args map[string]any, into any) error {
	if len(args) == 0 {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// withFlag renders v as a document with one extra boolean field.
func withFlag(v any, key string, flag bool) any {
	doc, err := payload.FromValue(v)
	if err != nil {
		return v
	}
	doc[key] = flag
	return doc
}
