package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"usher/internal/config"
)

const userAgent = "Usher/0.1.0"

// Service defines the notification surface exposed to the background jobs.
type Service interface {
	NotifySyncCompleted(ctx context.Context, servers, failed int, changes []string) error
	NotifyExpirations(ctx context.Context, removed []string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
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
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		sync:        cfg.Notifications.Sync,
		expirations: cfg.Notifications.Expirations,
		errors:      cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	sync        bool
	expirations bool
	errors      bool
}

func (n *ntfyService) NotifySyncCompleted(ctx context.Context, servers, failed int, changes []string) error {
	if !n.sync {
		return nil
	}

	var builder strings.Builder
	if failed == 0 {
		fmt.Fprintf(&builder, "Synced %d servers", servers)
	} else {
		fmt.Fprintf(&builder, "Synced %d servers, %d failed", servers, failed)
	}
	for _, change := range limitLines(changes, 10) {
		builder.WriteString("\n")
		builder.WriteString(change)
	}

	title := "Usher - Sync Complete"
	if failed > 0 {
		title = "Usher - Sync Complete (with errors)"
	}
	data := payload{
		title:   title,
		message: builder.String(),
		tags:    []string{"usher", "sync", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyExpirations(ctx context.Context, removed []string) error {
	if !n.expirations || len(removed) == 0 {
		return nil
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Access expired for %d users", len(removed))
	for _, name := range limitLines(removed, 10) {
		builder.WriteString("\n")
		builder.WriteString(name)
	}

	data := payload{
		title:   "Usher - Access Expired",
		message: builder.String(),
		tags:    []string{"usher", "expiration", "removed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}

	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Usher - Error",
		message:  builder.String(),
		tags:     []string{"usher", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Usher - Test",
		message:  "Notification system test",
		tags:     []string{"usher", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func limitLines(lines []string, max int) []string {
	if len(lines) <= max {
		return lines
	}
	out := make([]string, max+1)
	copy(out, lines[:max])
	out[max] = fmt.Sprintf("... and %d more", len(lines)-max)
	return out
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
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

type noopService struct{}

func (noopService) NotifySyncCompleted(context.Context, int, int, []string) error { return nil }
func (noopService) NotifyExpirations(context.Context, []string) error             { return nil }
func (noopService) NotifyError(context.Context, error, string) error              { return nil }
func (noopService) TestNotification(context.Context) error                        { return nil }
