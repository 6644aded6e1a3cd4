package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"finisher/internal/config"
)

const userAgent = "finisher/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventQueueDrained Event = "queue_drained"
	EventError        Event = "error"
	EventTest         Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
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
			EventJobCompleted: cfg.Notifications.JobCompleted,
			EventJobFailed:    cfg.Notifications.JobFailed,
			EventQueueDrained: cfg.Notifications.QueueDrained,
			EventError:        true,
			EventTest:         true,
		},
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
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventJobCompleted:
		label := jobLabel(payload)
		body := fmt.Sprintf("✅ Upscaled: %s", label)
		if d := durationValue(payload, "duration"); d > 0 {
			body += fmt.Sprintf(" in %s", d.Round(time.Second))
		}
		return message{
			title: "Finisher - Job Complete",
			body:  body,
			tags:  []string{"finisher", "job", "completed"},
		}, true
	case EventJobFailed:
		label := jobLabel(payload)
		reason := stringValue(payload, "error")
		if reason == "" {
			reason = "unknown error"
		}
		body := fmt.Sprintf("❌ %s failed", label)
		if stage := stringValue(payload, "stage"); stage != "" {
			body += " during " + stage
		}
		body += ": " + reason
		return message{
			title:    "Finisher - Job Failed",
			body:     body,
			tags:     []string{"finisher", "job", "failed"},
			priority: "high",
		}, true
	case EventQueueDrained:
		completed := intValue(payload, "completed")
		failed := intValue(payload, "failed")
		cancelled := intValue(payload, "cancelled")
		duration := durationValue(payload, "duration").Round(time.Second)
		if duration < 0 {
			duration = 0
		}
		title := "Finisher - Queue Complete"
		body := fmt.Sprintf("Queue drained: %d completed in %s", completed, duration)
		if failed > 0 || cancelled > 0 {
			title = "Finisher - Queue Complete (with errors)"
			body = fmt.Sprintf("Queue drained: %d completed, %d failed, %d cancelled in %s", completed, failed, cancelled, duration)
		}
		return message{
			title: title,
			body:  body,
			tags:  []string{"finisher", "queue", "completed"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if contextLabel := stringValue(payload, "context"); contextLabel != "" {
			builder.WriteString(" with ")
			builder.WriteString(contextLabel)
		}
		builder.WriteString(": ")
		if reason := stringValue(payload, "error"); reason != "" {
			builder.WriteString(reason)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Finisher - Error",
			body:     builder.String(),
			tags:     []string{"finisher", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Finisher - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"finisher", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func jobLabel(payload Payload) string {
	if desc := stringValue(payload, "description"); desc != "" {
		return desc
	}
	if id := stringValue(payload, "jobID"); id != "" {
		return id
	}
	return "job"
}

func stringValue(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func intValue(payload Payload, key string) int {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func durationValue(payload Payload, key string) time.Duration {
	if payload == nil {
		return 0
	}
	if v, ok := payload[key].(time.Duration); ok {
		return v
	}
	return 0
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
