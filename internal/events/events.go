// Package events announces finished reaction jobs to an external bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mirror/internal/domain"
	"mirror/internal/infra"
)

// JobEvent is published once per terminal job transition.
type JobEvent struct {
	Type       string    `json:"type"`
	JobID      string    `json:"jobId"`
	Status     string    `json:"status"`
	Mode       string    `json:"mode"`
	Mood       string    `json:"mood,omitempty"`
	VideoURL   string    `json:"videoUrl,omitempty"`
	Error      string    `json:"error,omitempty"`
	Retried    bool      `json:"retried"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewJobEvent builds the event for a job that just reached status.
func NewJobEvent(prefix string, job domain.Job, retried bool, at time.Time) JobEvent {
	return JobEvent{
		Type:       prefix + "." + string(job.Status),
		JobID:      job.ID,
		Status:     string(job.Status),
		Mode:       string(job.Mode),
		Mood:       string(job.Mood),
		VideoURL:   job.VideoURL,
		Error:      job.Error,
		Retried:    retried,
		OccurredAt: at.UTC(),
	}
}

// Publisher delivers job events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, JobEvent) error { return nil }
func (Noop) Close() error                            { return nil }

// NewPublisher builds the publisher selected by EVENTS_DRIVER.
func NewPublisher(cfg *infra.Config, logger zerolog.Logger) (Publisher, error) {
	switch cfg.EventsDriver {
	case "", infra.EventsDriverNone:
		return Noop{}, nil
	case infra.EventsDriverAMQP:
		p, err := DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("job events go to amqp")
		return p, nil
	case infra.EventsDriverKafka:
		p, err := DialKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("topic", cfg.KafkaTopic).Strs("brokers", cfg.KafkaBrokers).Msg("job events go to kafka")
		return p, nil
	}
	return nil, fmt.Errorf("events: unknown driver %q", cfg.EventsDriver)
}

func encode(ev JobEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", ev.Type, err)
	}
	return body, nil
}
