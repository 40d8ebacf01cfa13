package api

import (
	"slices"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/outbox"
	"crosspost/internal/preflight"
	"crosspost/internal/stage"
	"crosspost/internal/workflow"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromRunStatus converts a workflow run status to its API representation.
func FromRunStatus(status workflow.RunStatus) Run {
	run := status.Run
	dto := Run{
		ID:              run.ID,
		ContentID:       run.ContentID,
		Status:          string(run.Status),
		Stage:           run.Stage,
		CancelRequested: run.CancelRequested,
		Summary: Summary{
			Total:     run.Summary.Total,
			Published: run.Summary.Published,
			Rejected:  run.Summary.Rejected,
			Failed:    run.Summary.Failed,
		},
		CreatedAt:  formatTime(run.CreatedAt),
		UpdatedAt:  formatTime(run.UpdatedAt),
		FinishedAt: formatTime(run.FinishedAt),
		Posts:      make([]Post, 0, len(status.Platforms)),
	}
	for _, p := range status.Platforms {
		dto.Posts = append(dto.Posts, Post{
			Platform:   p.Platform,
			Target:     p.Target,
			Status:     string(p.Status),
			State:      string(p.State),
			ExternalID: p.ExternalID,
			URL:        p.URL,
			LastError:  p.LastError,
			Attempts:   p.Attempts,
			Violations: FromViolations(p.Violations),
		})
	}
	slices.SortFunc(dto.Posts, func(a, b Post) int {
		switch {
		case a.Platform < b.Platform:
			return -1
		case a.Platform > b.Platform:
			return 1
		}
		return 0
	})
	for _, t := range status.Transitions {
		dto.Transitions = append(dto.Transitions, Transition{
			Platform: t.Platform,
			State:    string(t.State),
			At:       formatTime(t.At),
		})
	}
	return dto
}

// FromViolations converts preflight findings to API DTOs.
func FromViolations(in []content.Violation) []Violation {
	if len(in) == 0 {
		return nil
	}
	out := make([]Violation, 0, len(in))
	for _, v := range in {
		out = append(out, Violation{
			Type:       v.Type,
			Severity:   string(v.Severity),
			Message:    v.Message,
			Field:      v.Field,
			Current:    v.Current,
			Limit:      v.Limit,
			Suggestion: v.Suggestion,
		})
	}
	return out
}

// FromValidation converts a preflight result.
func FromValidation(r preflight.Result) ValidationResult {
	violations := FromViolations(r.Violations)
	if violations == nil {
		violations = []Violation{}
	}
	return ValidationResult{
		Platform:     r.Platform,
		Valid:        r.Valid,
		RulesVersion: r.RulesVersion,
		Violations:   violations,
	}
}

// FromOutboxEvent converts an outbox row. Stage payloads are decoded so the
// run and platform show up in listings.
func FromOutboxEvent(ev outbox.Event) OutboxEvent {
	dto := OutboxEvent{
		ID:            ev.ID,
		EventType:     ev.EventType,
		EntityID:      ev.EntityID,
		Status:        string(ev.Status),
		RetryCount:    ev.RetryCount,
		ThrottleCount: ev.ThrottleCount,
		LastError:     ev.LastError,
		NextRetryAt:   formatTime(ev.NextRetryAt),
		CreatedAt:     formatTime(ev.CreatedAt),
		UpdatedAt:     formatTime(ev.UpdatedAt),
	}
	if p, err := stage.DecodePayload(ev.Payload); err == nil {
		dto.RunID, dto.ContentID, dto.Platform = p.RunID, p.ContentID, p.Platform
	}
	return dto
}

// FromOutboxEvents converts a slice of outbox rows.
func FromOutboxEvents(events []outbox.Event) []OutboxEvent {
	out := make([]OutboxEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, FromOutboxEvent(ev))
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	return WorkflowStatus{
		Running:   summary.Running,
		LastError: summary.LastError,
		LastSweep: formatTime(summary.LastSweep),
		Outbox: OutboxStats{
			Pending:       summary.Outbox.Pending,
			Processing:    summary.Outbox.Processing,
			Processed:     summary.Outbox.Processed,
			Failed:        summary.Outbox.Failed,
			OldestPending: formatTime(summary.Outbox.OldestPending),
		},
		OutboxError: summary.OutboxError,
		StageHealth: StageHealthSlice(summary.StageHealth),
		Breakers:    summary.Breakers,
	}
}

// StageHealthSlice returns stage health in pipeline order.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, name := range stage.Order {
		h, ok := health[string(name)]
		if !ok {
			continue
		}
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromCheckResults converts readiness probes.
func FromCheckResults(results []preflight.CheckResult) []CheckResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// ToValidatePost builds the post a preflight request describes.
func (r ValidateRequest) ToValidatePost(platform string) content.Post {
	return content.Post{
		Platform: platform,
		Caption:  r.Text,
		Hashtags: r.Hashtags,
		Mentions: r.Mentions,
		Links:    r.Links,
		Media:    toMediaRefs(r.Media),
	}
}
