package scheduler

import "log/slog"

// LogPublisher is the fallback alert sink for deployments without a
// broker: alerts land in the structured log and nowhere else.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(kind string, event any) error {
	p.logger.Warn("Ledger alert", "kind", kind, "event", event)
	return nil
}
