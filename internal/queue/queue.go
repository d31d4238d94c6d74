package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

// Key is the Redis list the helpdesk worker pops jobs from.
const Key = "jobs"

type Job struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// BreachJob is the payload of an sla_breach job.
type BreachJob struct {
	TicketID   string    `json:"ticket_id"`
	Kind       string    `json:"kind"`
	DueAt      time.Time `json:"due_at"`
	DetectedAt time.Time `json:"detected_at"`
}

// Publisher pushes jobs onto the shared queue.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher { return &Publisher{rdb: rdb} }

func (p *Publisher) Enqueue(ctx context.Context, typ string, data interface{}) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	job := Job{ID: uuid.NewString(), Type: typ, Data: b}
	jb, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := p.rdb.RPush(ctx, Key, jb).Err(); err != nil {
		return "", err
	}
	return job.ID, nil
}

// BreachDetected implements sla.Notifier.
func (p *Publisher) BreachDetected(ctx context.Context, b sla.Breach) error {
	_, err := p.Enqueue(ctx, "sla_breach", BreachJob{
		TicketID:   b.TicketID,
		Kind:       string(b.Kind),
		DueAt:      b.DueAt,
		DetectedAt: b.DetectedAt,
	})
	return err
}
