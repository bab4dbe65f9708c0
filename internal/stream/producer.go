package stream

import (
	"context"

	"alert_worker/core/port/out"
)

// Producer implements out.MessageProducer on the Redis stream.
type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

func (p *Producer) PublishEmailIngested(ctx context.Context, job *out.EmailIngestedJob) error {
	_, err := p.stream.Publish(ctx, StreamEmails, job)
	return err
}
