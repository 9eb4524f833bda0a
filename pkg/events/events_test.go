package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStreamPublisherAppendsEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p, err := NewRedisStreamPublisher(client, RedisStreamConfig{Stream: "test:events", MaxLen: 100})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	evt := Event{
		ID:            "e1",
		Type:          AppointmentStatusChanged,
		AppointmentID: "a1",
		UserEmail:     "u@x.com",
		OwnerEmail:    "o@x.com",
		Status:        "confirmed",
		OccurredAt:    time.Now().UTC(),
	}
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := client.XRange(context.Background(), "test:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(msgs))
	}
	if msgs[0].Values["type"] != AppointmentStatusChanged || msgs[0].Values["appointment_id"] != "a1" {
		t.Fatalf("unexpected stream fields: %+v", msgs[0].Values)
	}
	var decoded Event
	if err := json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Status != "confirmed" || decoded.OwnerEmail != "o@x.com" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestRedisStreamPublisherReportsRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	p, err := NewRedisStreamPublisher(client, RedisStreamConfig{})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	mr.Close()
	if err := p.Publish(context.Background(), Event{ID: "e1", Type: AppointmentCreated}); err == nil {
		t.Fatalf("expected publish error when redis is down")
	}
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher(AMQPConfig{}); err == nil {
		t.Fatalf("expected error for empty amqp url")
	}
}
