package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mirror/internal/domain"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent     []published
	err      error
	closeErr error
	closed   bool
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return c.closeErr
}

type fakeConn struct{ closed bool }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisherPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{conn: &fakeConn{}, channel: ch, exchange: "mirror.events"}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := domain.Job{ID: "j1", Mode: domain.ModeSeedance, Status: domain.JobStatusSucceeded, VideoURL: "https://cdn/v.mp4"}

	if err := p.Publish(context.Background(), NewJobEvent("reaction.job", job, false, at)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent = %d messages", len(ch.sent))
	}
	got := ch.sent[0]
	if got.exchange != "mirror.events" || got.key != "reaction.job.succeeded" {
		t.Fatalf("routed to %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.MessageId != "j1" || got.msg.ContentType != "application/json" {
		t.Fatalf("publishing = %+v", got.msg)
	}
	if !got.msg.Timestamp.Equal(at) {
		t.Fatalf("timestamp = %v", got.msg.Timestamp)
	}
	var ev JobEvent
	if err := json.Unmarshal(got.msg.Body, &ev); err != nil {
		t.Fatalf("body: %v", err)
	}
	if ev.VideoURL != "https://cdn/v.mp4" || ev.Status != "succeeded" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestAMQPPublisherPublishError(t *testing.T) {
	boom := errors.New("channel closed")
	p := &AMQPPublisher{conn: &fakeConn{}, channel: &fakeChannel{err: boom}, exchange: "x"}
	err := p.Publish(context.Background(), NewJobEvent("reaction.job", domain.Job{ID: "j2", Status: domain.JobStatusFailed, Error: "e"}, true, time.Now()))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestAMQPPublisherCloseClosesConnection(t *testing.T) {
	conn := &fakeConn{}
	ch := &fakeChannel{closeErr: errors.New("already closed")}
	p := &AMQPPublisher{conn: conn, channel: ch, exchange: "x"}

	if err := p.Close(); err == nil {
		t.Fatalf("channel close error dropped")
	}
	if !ch.closed || !conn.closed {
		t.Fatalf("channel closed=%v conn closed=%v", ch.closed, conn.closed)
	}
}

func TestDialAMQPRejectsBadURL(t *testing.T) {
	if _, err := DialAMQP("http://not-amqp", "x"); err == nil {
		t.Fatalf("dial with non-amqp scheme succeeded")
	}
}
