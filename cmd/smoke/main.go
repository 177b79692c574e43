// Command smoke checks that the dashboard's backing services are reachable:
// Redis, the STAC catalog and Kafka. It publishes one ingest event for the
// first preset lake so a running dashboard evicts that lake's cached report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/cache/redisstore"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/httpclient"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geocode"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/imagery/stac"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/invalidation"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/invalidation/kafka"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
	h3mapper "github.com/mohammed-shakir/lake-ndvi-trends/internal/mapper/h3"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/publish"
)

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	rc, err := redisstore.New(ctx, addr)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if err := rc.Set(ctx, "ndvi:smoke", []byte("ok"), 30*time.Second); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	got, err := rc.MGet(ctx, []string{"ndvi:smoke"})
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	fmt.Println("redis GET ndvi:smoke:", string(got["ndvi:smoke"]))
	return nil
}

func testSTAC(ctx context.Context, cfg config.Config, bb model.BBox) error {
	fmt.Println("STAC test")
	hc := httpclient.NewOutbound(httpclient.Options{UserAgent: cfg.UserAgent, Timeout: 30 * time.Second})
	c, err := stac.New(stac.Config{URL: cfg.STACURL, PageSize: 5, MaxItems: 5}, hc, logger.Discard())
	if err != nil {
		return err
	}
	items, err := c.Search(ctx, model.SceneQuery{
		BBox:          bb,
		Start:         cfg.Analysis.Fetch.Start,
		End:           cfg.Analysis.Fetch.End,
		Collection:    cfg.Analysis.Fetch.Collection,
		MaxCloudCover: cfg.Analysis.Fetch.MaxCloudCover,
	})
	if err != nil {
		return err
	}
	fmt.Printf("STAC items over %s: %d\n", bb, len(items))
	return nil
}

func testKafka(brokers []string, topic string, ev invalidation.Event) error {
	fmt.Println("Kafka test")
	prod, err := sarama.NewSyncProducer(brokers, publish.ProducerConfig())
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.Collection),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("produced ingest event partition=%d offset=%d\n", part, off)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.FromEnv()
	lake := geocode.Presets()[0].Lake
	pt, _ := lake.Anchor()

	cell, err := h3mapper.New().LakeCell(pt, cfg.H3Res)
	if err != nil {
		fmt.Println("H3 error:", err)
		return 1
	}
	fmt.Printf("%s cell at res %d: %s\n", lake.Name, cfg.H3Res, cell)

	const d = 0.01
	bb := model.BBox{X1: pt.Lng - d, Y1: pt.Lat - d, X2: pt.Lng + d, Y2: pt.Lat + d, SRID: "EPSG:4326"}

	if cfg.RedisAddr != "" {
		if err := testRedis(ctx, cfg.RedisAddr); err != nil {
			fmt.Println("Redis error:", err)
			return 1
		}
	}
	if err := testSTAC(ctx, cfg, bb); err != nil {
		fmt.Println("STAC error:", err)
		return 1
	}
	ev := invalidation.Event{
		Version:    uint64(time.Now().UnixNano()),
		Op:         invalidation.OpIngest,
		Collection: cfg.Analysis.Fetch.Collection,
		SceneID:    "smoke-" + logger.NewID(),
		TS:         time.Now().UTC(),
		H3Cells:    []string{cell},
	}
	if err := testKafka(kafka.SplitBrokers(cfg.Invalidation.Brokers), cfg.Invalidation.Topic, ev); err != nil {
		fmt.Println("Kafka error:", err)
		return 1
	}
	fmt.Println("All checks completed")
	return 0
}
