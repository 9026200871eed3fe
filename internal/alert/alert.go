// Package alert delivers rollout classification notifications to external
// consumers.
package alert

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/nbyrd/staggerd/internal/ws"
)

// Classifications emitted by the rollout sweep.
const (
	ClassificationActive   = "active"
	ClassificationFinished = "finished"
)

// Alert summarizes one classification bucket from a sweep run.
type Alert struct {
	Level          string    `json:"level"`
	Classification string    `json:"classification"`
	Count          int       `json:"count"`
	DeploymentIDs  []string  `json:"deployment_ids"`
	EmittedAt      time.Time `json:"emitted_at"`
}

// Sink accepts alerts. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs the alert.
func (s LogSink) Notify(ctx context.Context, a Alert) error {
	s.Logger.Info("rollout alert",
		"level", a.Level,
		"classification", a.Classification,
		"count", a.Count,
		"deployment_ids", a.DeploymentIDs)
	return nil
}

// HubChannel is the ws channel alerts are broadcast on.
const HubChannel = "alerts"

// HubSink broadcasts alerts to websocket subscribers.
type HubSink struct {
	Hub *ws.Hub
}

// Notify marshals and broadcasts the alert.
func (s HubSink) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	s.Hub.Broadcast(HubChannel, payload)
	return nil
}
