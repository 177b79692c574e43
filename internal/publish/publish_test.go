package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
)

func report() *model.Report {
	return &model.Report{
		RunID:      "run-1",
		Lake:       model.WaterBody{Name: "Chilika"},
		CRS:        32645,
		ScenesUsed: 6,
		Results: []model.TrendResult{
			{RingID: 0, Season: model.SeasonDry, Slope: 0.001, N: 3},
			{RingID: 0, Season: model.SeasonMonsoon, Slope: -0.002, N: 3},
		},
	}
}

func TestPublish_OneMessagePerResult(t *testing.T) {
	prod := mocks.NewSyncProducer(t, ProducerConfig())
	var seen []TrendMessage
	check := func(val []byte) error {
		var m TrendMessage
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if m.Lake != "Chilika" || m.RunID != "run-1" || m.CRS != 32645 {
			return fmt.Errorf("unexpected message %+v", m)
		}
		seen = append(seen, m)
		return nil
	}
	prod.ExpectSendMessageWithCheckerFunctionAndSucceed(check)
	prod.ExpectSendMessageWithCheckerFunctionAndSucceed(check)

	p := New(prod, "ndvi-trends", logger.Discard())
	if err := p.Publish(context.Background(), report()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(seen) != 2 || seen[0].Season != model.SeasonDry || seen[1].Slope != -0.002 {
		t.Fatalf("messages=%+v", seen)
	}
}

func TestPublish_ProducerError(t *testing.T) {
	prod := mocks.NewSyncProducer(t, ProducerConfig())
	prod.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	prod.ExpectSendMessageAndSucceed()

	p := New(prod, "ndvi-trends", logger.Discard())
	if err := p.Publish(context.Background(), report()); err == nil {
		t.Fatalf("expected producer failure to surface")
	}
	_ = p.Close()
}

func TestPublish_NothingToSend(t *testing.T) {
	prod := mocks.NewSyncProducer(t, ProducerConfig())
	p := New(prod, "ndvi-trends", logger.Discard())
	if err := p.Publish(context.Background(), &model.Report{}); err != nil {
		t.Fatalf("empty report: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, report()); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: got %v", err)
	}
	_ = p.Close()
}
