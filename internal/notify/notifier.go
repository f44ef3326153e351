// Package notify pushes monitor alerts to chat channels. A Notifier fans one
// message out to every configured sender; the operator picks which event
// types get through via the [notify] events list.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Event types the monitors emit.
const (
	EventTrigger     = "trigger"
	EventAnomaly     = "anomaly"
	EventOpportunity = "opportunity"
	EventError       = "error"
)

// Sender delivers one formatted message to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs and combined errors.
	Name() string
}

// Notifier fans alerts out to its senders, filtered by event type.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier delivering to the given senders. Only events
// named in the events list pass the filter; an empty list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the message when the event type is enabled. Filtered
// events are dropped with a debug log line.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event not enabled", slog.String("event", event))
		return nil
	}
	return n.send(ctx, title, message)
}

// NotifyAll delivers the message regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.send(ctx, title, message)
}

// send tries every sender. One channel failing never blocks the others; the
// failures come back joined.
func (n *Notifier) send(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "send failed",
				slog.String("sender", s.Name()),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// postJSON marshals payload and POSTs it, turning any non-2xx status into an
// error carrying a short body excerpt.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: post: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, excerpt)
	}
	return nil
}
