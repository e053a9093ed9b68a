// Package notification delivers alerts about emitted signals and service
// incidents to external channels (Telegram, webhooks, the log).
package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Signal  *model.Signal `json:"signal,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	ev := log.Info()
	switch alert.Level {
	case AlertWarning:
		ev = log.Warn()
	case AlertCritical:
		ev = log.Error()
	}
	ev.Str("component", "notify").Str("title", alert.Title).Msg(alert.Message)
	return nil
}

// SignalAlert renders a signal as an alert. STRONG signals are raised as
// warnings so they stand out in chat clients.
func SignalAlert(sig model.Signal) Alert {
	level := AlertInfo
	if sig.Level == model.LevelStrong {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s (%s)", sig.Operation, sig.Instrument, sig.Level),
		Message: fmt.Sprintf("price %s at %s\nstrategy %s, id %s",
			sig.Price.String(), sig.Time.UTC().Format("2006-01-02 15:04 MST"), sig.Strategy, sig.ID),
		Signal: &sig,
	}
}

// Sink adapts a Notifier to model.SignalSink.
type Sink struct {
	n Notifier
}

// NewSink wraps n.
func NewSink(n Notifier) *Sink { return &Sink{n: n} }

// Publish sends the signal as an alert.
func (s *Sink) Publish(ctx context.Context, sig model.Signal) error {
	return s.n.Send(ctx, SignalAlert(sig))
}
