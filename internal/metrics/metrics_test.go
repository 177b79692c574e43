package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	return rr.Body.String()
}

func Test_PipelineMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)
	t.Cleanup(func() { observability.Init(nil, false) })

	observability.IncRun("ok")
	observability.ObserveStage("fetch", 0.25)
	observability.AddScenes("used", 5)
	observability.AddScenes("dropped", 1)
	observability.IncTrendPair("dry", "fitted")
	observability.IncTrendPair("monsoon", "insufficient_data")
	observability.IncResultCache("memory", false)
	observability.ObserveCacheOp("get", nil, 0.002)
	observability.ObserveHTTP(http.MethodGet, "/api/analysis", 200, 0.1)

	body := scrape(t, p)
	mustContain := []string{
		`pipeline_runs_total{outcome="ok"} 1`,
		`pipeline_scenes_total{outcome="used"} 5`,
		`pipeline_stage_seconds_count{stage="fetch"} 1`,
		`cache_op_seconds_count`,
		`result_cache_total{outcome="miss",tier="memory"} 1`,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}
	assertHasMetricLine(t, body, "pipeline_trend_pairs_total", `season="dry"`, `outcome="fitted"`)
	assertHasMetricLine(t, body, "http_requests_total", `route="/api/analysis"`, `status="200"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)

	if n, err := testutil.GatherAndCount(p.Gatherer(), "pipeline_trend_pairs_total"); err != nil || n != 2 {
		t.Fatalf("pair series=%d err=%v want 2", n, err)
	}
}

func Test_DisabledInstrumentsAreNotExported(t *testing.T) {
	p := Init(Config{})
	observability.Init(p.Registerer(), false)
	t.Cleanup(func() { observability.Init(nil, false) })

	observability.IncRun("ok")
	if strings.Contains(scrape(t, p), "pipeline_runs_total") {
		t.Fatalf("disabled instruments must not be registered")
	}
}

func Test_Serve_NoopWhenDisabled(t *testing.T) {
	p := Init(Config{Enabled: false, Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Serve(ctx, logger.Discard()); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("serve: %v", err)
	}
}
