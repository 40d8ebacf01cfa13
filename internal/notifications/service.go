package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"crosspost/internal/config"
)

const userAgent = "crosspost/0.1.0"

// Event identifies an alert type.
type Event string

const (
	EventRunFinalized  Event = "run_finalized"
	EventPublishFailed Event = "publish_failed"
	EventAuthFailure   Event = "auth_failure"
	EventError         Event = "error"
	EventTest          Event = "test"
)

// Payload carries the values an event's message is built from.
type Payload map[string]string

// Service publishes alerts.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRunFinalized:  cfg.Notifications.RunFinalized,
			EventPublishFailed: cfg.Notifications.PublishFailed,
			EventAuthFailure:   cfg.Notifications.AuthFailures,
			EventError:         true,
			EventTest:          true,
		},
		retry: retrypolicy.NewBuilder[any]().
			HandleIf(func(_ any, err error) bool { return isRetryable(err) }).
			WithBackoff(200*time.Millisecond, 2*time.Second).
			WithMaxRetries(2).
			ReturnLastFailure().
			Build(),
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
	retry    retrypolicy.RetryPolicy[any]
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return failsafe.With[any](n.retry).WithContext(ctx).Run(func() error {
		return n.send(ctx, msg)
	})
}

func format(event Event, p Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(p[key]) }
	switch event {
	case EventRunFinalized:
		status := get("status")
		msg := message{
			title: "Crosspost - Run " + status,
			body: fmt.Sprintf("%s: %s published, %s rejected, %s failed",
				get("content_id"), orZero(get("published")), orZero(get("rejected")), orZero(get("failed"))),
			tags: []string{"crosspost", "run", status},
		}
		if status != "completed" {
			msg.priority = "high"
		}
		return msg, true
	case EventPublishFailed:
		return message{
			title: "Crosspost - Publish Failed",
			body:  fmt.Sprintf("%s on %s: %s", get("content_id"), get("platform"), get("error")),
			tags:  []string{"crosspost", "publish", get("platform")},
		}, true
	case EventAuthFailure:
		return message{
			title:    "Crosspost - Credentials Rejected",
			body:     fmt.Sprintf("%s rejected our credentials: %s", get("platform"), get("error")),
			tags:     []string{"crosspost", "auth", "alert"},
			priority: "urgent",
		}, true
	case EventError:
		body := "Error"
		if label := get("context"); label != "" {
			body += " with " + label
		}
		errText := get("error")
		if errText == "" {
			errText = "unknown"
		}
		return message{
			title:    "Crosspost - Error",
			body:     body + ": " + errText,
			tags:     []string{"crosspost", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Crosspost - Test",
			body:     "Notification system test",
			tags:     []string{"crosspost", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ntfy returned %d: %s", e.code, e.body)
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	return true
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
