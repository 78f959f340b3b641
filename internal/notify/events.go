package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/perparb/fundarb/internal/domain"
)

// Publish delivers a lifecycle event through the configured senders. Critical
// events bypass the event-type filter so an operator always sees them.
// Delivery failures are logged and swallowed: an alert that cannot be sent
// must never roll back the state transition that produced it.
func (n *Notifier) Publish(ctx context.Context, ev domain.Event) {
	title := ev.Title
	if ev.Severity == domain.SeverityCritical {
		title = "CRITICAL: " + title
	}
	message := ev.Message
	if details := formatPayload(ev.Payload); details != "" {
		message = message + "\n" + details
	}

	var err error
	if ev.Severity == domain.SeverityCritical {
		err = n.NotifyAll(ctx, title, message)
	} else {
		err = n.Notify(ctx, string(ev.Type), title, message)
	}
	if err != nil {
		n.logger.ErrorContext(ctx, "event delivery failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// formatPayload renders event payload fields as sorted "key: value" lines so
// messages are stable across runs.
func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, payload[k]))
	}
	return strings.Join(lines, "\n")
}
