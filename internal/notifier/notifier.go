package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/streamforge/media_orchestrator/internal/download"
	"github.com/streamforge/media_orchestrator/internal/logctx"
)

// Notifier pushes a human-readable message to an external channel.
type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// DiscordNotifier posts messages to a Discord webhook.
type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// NopNotifier drops every message. Used when no webhook is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }

// ConsumeDownloadEvents drains the download orchestrator's event channels and
// forwards them to the notifier until both channels close or ctx is done.
// Notification failures are logged, never propagated.
func ConsumeDownloadEvents(ctx context.Context, n Notifier, finished, failed <-chan download.Event) {
	logger := logctx.LoggerFromContext(ctx)

	for finished != nil || failed != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-finished:
			if !ok {
				finished = nil

				continue
			}

			msg := fmt.Sprintf("Download finished: %q (owner %d)", ev.Title, ev.OwnerID)
			if err := n.Notify(ctx, msg); err != nil {
				logger.Warn("failed to send notification", "error", err)
			}
		case ev, ok := <-failed:
			if !ok {
				failed = nil

				continue
			}

			msg := fmt.Sprintf("Download failed: %q (owner %d): %s", ev.Title, ev.OwnerID, ev.Error)
			if err := n.Notify(ctx, msg); err != nil {
				logger.Warn("failed to send notification", "error", err)
			}
		}
	}
}
