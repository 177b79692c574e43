// Package publish emits finished trend results to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// TrendMessage is the value of one published record.
type TrendMessage struct {
	RunID      string    `json:"run_id"`
	Lake       string    `json:"lake"`
	CRS        int       `json:"crs"`
	ScenesUsed int       `json:"scenes_used"`
	FinishedAt time.Time `json:"finished_at"`
	model.TrendResult
}

type Publisher struct {
	prod  sarama.SyncProducer
	topic string
	log   *slog.Logger
}

func New(prod sarama.SyncProducer, topic string, log *slog.Logger) *Publisher {
	return &Publisher{prod: prod, topic: topic, log: log}
}

// ProducerConfig is the sarama config a Publisher expects.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V3_6_0_0
	return cfg
}

func NewKafka(brokers []string, topic string, log *slog.Logger) (*Publisher, error) {
	prod, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("producer create: %w", err)
	}
	return New(prod, topic, log), nil
}

// Publish sends one message per trend result, keyed by lake name so a
// lake's results stay on one partition.
func (p *Publisher) Publish(ctx context.Context, rep *model.Report) error {
	if rep == nil || len(rep.Results) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(rep.Results))
	for _, tr := range rep.Results {
		b, err := json.Marshal(TrendMessage{
			RunID:       rep.RunID,
			Lake:        rep.Lake.Name,
			CRS:         rep.CRS,
			ScenesUsed:  rep.ScenesUsed,
			FinishedAt:  rep.FinishedAt,
			TrendResult: tr,
		})
		if err != nil {
			return fmt.Errorf("encode trend: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(rep.Lake.Name),
			Value: sarama.ByteEncoder(b),
		})
	}
	if err := p.prod.SendMessages(msgs); err != nil {
		return fmt.Errorf("publish %d trends for %q: %w", len(msgs), rep.Lake.Name, err)
	}
	p.log.InfoContext(ctx, "trends published", "topic", p.topic, "lake", rep.Lake.Name, "messages", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("producer close: %w", err)
	}
	return nil
}
