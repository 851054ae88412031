package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tweetcast/internal/config"
)

const userAgent = "tweetcast/0.1"

// Event names a notification type.
type Event string

const (
	EventPodcastCompleted Event = "podcast_completed"
	EventJobFailed        Event = "job_failed"
	EventQueueStarted     Event = "queue_started"
	EventQueueCompleted   Event = "queue_completed"
	EventTest             Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
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
		endpoint:         topic,
		client:           &http.Client{Timeout: timeout},
		podcastCompleted: cfg.Notifications.PodcastCompleted,
		jobFailures:      cfg.Notifications.JobFailures,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint         string
	client           *http.Client
	podcastCompleted bool
	jobFailures      bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventPodcastCompleted:
		return n.podcastCompleted
	case EventJobFailed:
		return n.jobFailures
	default:
		return true
	}
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventPodcastCompleted:
		title := stringField(payload, "title")
		body := fmt.Sprintf("🎧 Podcast ready: %s", title)
		if duration, ok := payload["duration"].(time.Duration); ok && duration > 0 {
			body = fmt.Sprintf("%s (%s)", body, duration.Round(time.Second))
		}
		if url := stringField(payload, "audioUrl"); url != "" {
			body += "\n" + url
		}
		return message{
			title:    "Tweetcast - Podcast Ready",
			body:     body,
			tags:     []string{"tweetcast", "podcast", "completed"},
			priority: "high",
		}, true
	case EventJobFailed:
		var b strings.Builder
		b.WriteString("❌ ")
		b.WriteString(stringField(payload, "jobType"))
		b.WriteString(" job failed")
		if id := stringField(payload, "jobId"); id != "" {
			fmt.Fprintf(&b, " (%s)", id)
		}
		if err, ok := payload["error"].(error); ok && err != nil {
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(err.Error()))
		} else if reason := stringField(payload, "reason"); reason != "" {
			b.WriteString(": ")
			b.WriteString(reason)
		}
		return message{
			title:    "Tweetcast - Job Failed",
			body:     b.String(),
			tags:     []string{"tweetcast", "error", "alert"},
			priority: "high",
		}, true
	case EventQueueStarted:
		count, _ := payload["count"].(int)
		return message{
			title: "Tweetcast - Queue Started",
			body:  fmt.Sprintf("Started processing %d jobs", count),
			tags:  []string{"tweetcast", "queue", "started"},
		}, true
	case EventQueueCompleted:
		processed, _ := payload["processed"].(int)
		failed, _ := payload["failed"].(int)
		duration, _ := payload["duration"].(time.Duration)
		duration = max(duration.Round(time.Second), 0)
		title := "Tweetcast - Queue Complete"
		body := fmt.Sprintf("Queue drained: %d jobs processed in %s", processed, duration)
		if failed > 0 {
			title = "Tweetcast - Queue Complete (with errors)"
			body = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", processed, failed, duration)
		}
		return message{title: title, body: body, tags: []string{"tweetcast", "queue", "completed"}}, true
	case EventTest:
		return message{
			title:    "Tweetcast - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"tweetcast", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func stringField(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
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
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
