package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

func TestBreachDetectedPushesJob(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := NewPublisher(rdb)

	due := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	at := due.Add(time.Minute)
	if err := p.BreachDetected(context.Background(), sla.Breach{TicketID: "t1", Kind: sla.BreachResponse, DueAt: due, DetectedAt: at}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	items, err := mr.List(Key)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one job, got %v %v", items, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(items[0]), &job); err != nil {
		t.Fatal(err)
	}
	if job.Type != "sla_breach" || job.ID == "" {
		t.Fatalf("unexpected job: %+v", job)
	}
	var bj BreachJob
	if err := json.Unmarshal(job.Data, &bj); err != nil {
		t.Fatal(err)
	}
	if bj.TicketID != "t1" || bj.Kind != "response" || !bj.DueAt.Equal(due) || !bj.DetectedAt.Equal(at) {
		t.Fatalf("unexpected payload: %+v", bj)
	}
}
