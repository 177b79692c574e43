package imagery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
)

func q(collection string) model.SceneQuery {
	return model.SceneQuery{
		BBox:          model.BBox{X1: 73.6, Y1: 24.5, X2: 73.7, Y2: 24.6},
		Start:         time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC),
		Collection:    collection,
		MaxCloudCover: 25,
		Assets:        []string{"B08", "B04"},
	}
}

func TestQueryKey_NormalizesAssetsAndCollection(t *testing.T) {
	a := q("sentinel-2-l2a")
	b := q(" Sentinel-2-L2A ")
	b.Assets = []string{"B04", "B08"}
	if QueryKey(a) != QueryKey(b) {
		t.Fatalf("equivalent queries hash differently")
	}
	c := q("sentinel-2-l2a")
	c.MaxCloudCover = 10
	if QueryKey(a) == QueryKey(c) {
		t.Fatalf("cloud cover must change the key")
	}
}

func TestCached_HitsAfterCompleteBatch(t *testing.T) {
	var calls atomic.Int32
	next := FetcherFunc(func(context.Context, model.SceneQuery) (model.SceneBatch, error) {
		calls.Add(1)
		return model.SceneBatch{Scenes: []model.SceneSample{{ID: "a"}}}, nil
	})
	c := NewCached(next, 4, logger.Discard())
	for range 3 {
		b, err := c.Fetch(context.Background(), q("s2"))
		if err != nil || len(b.Scenes) != 1 {
			t.Fatalf("fetch: %+v %v", b, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream calls=%d want 1", calls.Load())
	}
	c.Purge()
	if _, err := c.Fetch(context.Background(), q("s2")); err != nil {
		t.Fatalf("fetch after purge: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream calls after purge=%d want 2", calls.Load())
	}
}

func TestCached_PartialAndFailedBatchesAreNotStored(t *testing.T) {
	var calls atomic.Int32
	fail := true
	next := FetcherFunc(func(context.Context, model.SceneQuery) (model.SceneBatch, error) {
		calls.Add(1)
		if fail {
			return model.SceneBatch{}, model.ErrDataFetch
		}
		return model.SceneBatch{Failed: []model.SceneFailure{{ID: "x"}}}, nil
	})
	c := NewCached(next, 4, logger.Discard())
	if _, err := c.Fetch(context.Background(), q("s2")); !errors.Is(err, model.ErrDataFetch) {
		t.Fatalf("want ErrDataFetch, got %v", err)
	}
	fail = false
	_, _ = c.Fetch(context.Background(), q("s2"))
	_, _ = c.Fetch(context.Background(), q("s2"))
	if calls.Load() != 3 || c.Len() != 0 {
		t.Fatalf("calls=%d len=%d", calls.Load(), c.Len())
	}
}

func TestCached_ConcurrentCallersShareOneFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	next := FetcherFunc(func(context.Context, model.SceneQuery) (model.SceneBatch, error) {
		calls.Add(1)
		<-release
		return model.SceneBatch{Scenes: []model.SceneSample{{ID: "a"}}}, nil
	})
	c := NewCached(next, 4, logger.Discard())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(context.Background(), q("s2")); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls.Load() != 1 {
		t.Fatalf("upstream calls=%d want 1", calls.Load())
	}
}
