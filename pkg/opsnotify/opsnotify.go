// Package opsnotify posts worker-side engine failures to a Slack ops
// channel. Single-purpose: the worker only needs to tell ops a task's
// engine call failed.
package opsnotify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts ENGINE_UNAVAILABLE / ENGINE_FAILED terminal states to a
// Slack channel. Nil-safe: a Notifier with no bot token configured is a
// logging-only no-op, so the worker can hold one unconditionally.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New creates a Notifier. If botToken is empty, it operates in no-op mode.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether this notifier has a live Slack client.
func (n *Notifier) IsEnabled() bool {
	return n != nil && n.client != nil && n.channel != ""
}

// NotifyEngineFailure posts a terse alert about a task whose engine call
// failed. Errors posting to Slack are logged, never propagated — a
// notification failure must never affect task outcome.
func (n *Notifier) NotifyEngineFailure(ctx context.Context, taskID string, cause error) {
	if n == nil {
		return
	}
	if !n.IsEnabled() {
		n.logger.Debug("ops notifier disabled, skipping engine failure alert", "task_id", taskID, "error", cause)
		return
	}

	text := fmt.Sprintf(":rotating_light: task `%s` failed at the engine: %s", taskID, cause.Error())
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting engine failure to slack", "task_id", taskID, "error", err)
	}
}
