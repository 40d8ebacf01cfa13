package stage

import (
	"context"
	"fmt"
	"strings"

	"crosspost/internal/content"
	"crosspost/internal/logging"
	"crosspost/internal/services"
)

// PreflightExecutor validates the post against the platform rules. A
// blocked post is rejected and routed straight to finalize.
type PreflightExecutor struct{ *base }

func (e *PreflightExecutor) Stage() Name { return Preflight }

func (e *PreflightExecutor) Execute(ctx context.Context, task Task) error {
	p := task.Payload
	post, done, err := e.open(ctx, p)
	if done || err != nil {
		return err
	}
	if reached(post, content.StatePreflightPassed) {
		return e.emit(ctx, Publish, p)
	}
	if e.deps.Rules == nil {
		return services.Wrap(services.ErrConfiguration, string(Preflight), "validate", "no rules loader configured", nil)
	}

	result := e.deps.Rules.Validate(ctx, *post)
	post.Violations = result.Violations
	for _, v := range result.Violations {
		e.deps.Metrics.IncViolation(p.Platform, v.Type, string(v.Severity))
	}
	logger := e.logger(ctx).With(logging.String("rules_version", result.RulesVersion))

	if !result.Valid {
		blocking := result.Blocking()
		post.Status = content.StatusRejected
		post.State = content.StatePreflightBlocked
		post.LastError = rejectionSummary(blocking)
		if err := e.savePost(ctx, post); err != nil {
			return err
		}
		if err := e.transition(ctx, p, content.StatePreflightBlocked); err != nil {
			return err
		}
		e.setStage(ctx, p, Preflight)
		logger.Info("post rejected by preflight",
			logging.String(logging.FieldEventType, "preflight_blocked"),
			logging.Int("blocking", len(blocking)),
			logging.String("violations", post.LastError),
		)
		return e.emit(ctx, Finalize, p)
	}

	if advisory := result.Advisory(); len(advisory) > 0 {
		logging.WarnWithContext(logger, "preflight advisories", "preflight_advisory",
			logging.Int("advisory", len(advisory)),
			logging.String("violations", rejectionSummary(advisory)),
			logging.String(logging.FieldErrorHint, "review the caption before the next post"),
			logging.String(logging.FieldImpact, "post is published as is"),
		)
	}
	post.Status = content.StatusValidating
	post.State = content.StatePreflightPassed
	if err := e.savePost(ctx, post); err != nil {
		return err
	}
	if err := e.transition(ctx, p, content.StatePreflightPassed); err != nil {
		return err
	}
	e.setStage(ctx, p, Preflight)
	return e.emit(ctx, Publish, p)
}

func (e *PreflightExecutor) HealthCheck(context.Context) Health {
	if e.deps.Rules == nil {
		return Unhealthy(Preflight, "no rules loader configured")
	}
	if err := e.deps.Rules.LastError(); err != nil {
		return Health{Name: string(Preflight), Ready: true, Detail: fmt.Sprintf("serving last known good rules: %v", err)}
	}
	return Healthy(Preflight)
}

func rejectionSummary(violations []content.Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.Type+": "+v.Message)
	}
	return strings.Join(parts, "; ")
}
