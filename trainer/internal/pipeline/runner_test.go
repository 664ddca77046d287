package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/common/expfmt"

	"github.com/rulwatch/rulwatch/pkg/types"
	"github.com/rulwatch/rulwatch/trainer/internal/config"
	"github.com/rulwatch/rulwatch/trainer/internal/dataset"
	"github.com/rulwatch/rulwatch/trainer/internal/history"
	"github.com/rulwatch/rulwatch/trainer/internal/label"
	"github.com/rulwatch/rulwatch/trainer/internal/notify"
	"github.com/rulwatch/rulwatch/trainer/internal/publish"
	"github.com/rulwatch/rulwatch/trainer/internal/telemetry"
)

// fleet writes a synthetic C-MAPSS style dataset into dir. Every third
// sensor is constant; the rest ramp up linearly over the last 60 cycles of
// an engine's life with a little measurement noise.
type fleet struct {
	rng   *rand.Rand
	base  [types.NumSensors]float64
	slope [types.NumSensors]float64
}

func newFleet(seed int64) *fleet {
	f := &fleet{rng: rand.New(rand.NewSource(seed))}
	for j := range f.base {
		f.base[j] = 100 + 10*float64(j)
		if j%3 != 0 {
			f.slope[j] = 1 + float64(j%5)
		}
	}
	return f
}

func (f *fleet) line(id, cycle, rul int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %d", id, cycle)
	for k := 0; k < types.NumSettings; k++ {
		fmt.Fprintf(&b, " %.4f", f.rng.NormFloat64()*0.002)
	}
	h := math.Max(0, float64(60-rul)) / 60
	for j := range f.base {
		v := f.base[j]
		if f.slope[j] != 0 {
			v += f.slope[j]*h + f.rng.NormFloat64()*0.01*f.slope[j]
		}
		fmt.Fprintf(&b, " %.4f", v)
	}
	b.WriteString("  \n")
	return b.String()
}

// write produces train, test and truth files and returns their locations.
func (f *fleet) write(t *testing.T, dir string, trainEngines, testEngines int) config.DataConfig {
	t.Helper()
	var train, test, truth strings.Builder
	for id := 1; id <= trainEngines; id++ {
		life := 120 + f.rng.Intn(80)
		for c := 1; c <= life; c++ {
			train.WriteString(f.line(id, c, life-c))
		}
	}
	for id := 1; id <= testEngines; id++ {
		life := 120 + f.rng.Intn(80)
		remaining := f.rng.Intn(60)
		for c := 1; c <= life-remaining; c++ {
			test.WriteString(f.line(id, c, life-c))
		}
		fmt.Fprintf(&truth, "%d \n", remaining)
	}

	put := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}
	return config.DataConfig{
		Train: put("train_FD001.txt", train.String()),
		Test:  put("test_FD001.txt", test.String()),
		Truth: put("RUL_FD001.txt", truth.String()),
	}
}

func testConfig(data config.DataConfig) *config.Config {
	cfg := config.Defaults()
	cfg.Data = data
	cfg.Features.Sensors = []string{"s2", "s3", "s4", "s7", "s11", "s12"}
	cfg.Model.Trees = 40
	return cfg
}

func newOpener(t *testing.T) dataset.Opener {
	t.Helper()
	op, err := dataset.NewOpener(config.ObjectStoreConfig{})
	if err != nil {
		t.Fatalf("NewOpener: %v", err)
	}
	return op
}

func parseTextfile(t *testing.T, path string) map[string]float64 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open metrics file: %v", err)
	}
	defer f.Close()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(f)
	if err != nil {
		t.Fatalf("parse metrics file: %v", err)
	}
	out := map[string]float64{}
	for name, mf := range mfs {
		for _, m := range mf.GetMetric() {
			key := name
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.Gauge != nil:
				out[key] = m.Gauge.GetValue()
			case m.Counter != nil:
				out[key] = m.Counter.GetValue()
			}
		}
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(newFleet(1).write(t, dir, 20, 15))
	cfg.PCA = config.PCAConfig{Enabled: true, Components: 5}
	cfg.Output.MetricsFile = filepath.Join(dir, "rulwatch.prom")
	cfg.Output.FeaturesCSV = filepath.Join(dir, "features.csv")
	cfg.Gates = []config.Gate{{Name: "failure-recall", Condition: "recall_failure < 0.9", Severity: "critical"}}

	mr := miniredis.RunT(t)
	pub, err := publish.New(context.Background(), config.PublishConfig{RedisAddr: mr.Addr(), Retention: time.Hour})
	if err != nil {
		t.Fatalf("publish.New: %v", err)
	}
	defer pub.Close()

	var out bytes.Buffer
	r := NewRunner(cfg, Deps{
		Opener:    newOpener(t),
		Out:       &out,
		Recorder:  telemetry.NewRecorder(),
		Publisher: pub,
	})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, out.String())
	}

	if recall := res.Raw.Report.Classes[1].Recall; recall < 0.9 {
		t.Errorf("failure recall = %.3f, want >= 0.9\n%s", recall, out.String())
	}
	if res.Test.Failing == 0 {
		t.Fatal("synthetic test split has no failing rows")
	}

	// lags 1..3 drop the first three cycles of every engine in both splits.
	for name, st := range map[string]SplitStats{"train": res.Train, "test": res.Test} {
		if st.Kept != st.Rows-3*st.Engines {
			t.Errorf("%s: kept %d of %d rows over %d engines", name, st.Kept, st.Rows, st.Engines)
		}
	}

	if res.PCA == nil || res.PCA.Components != 5 {
		t.Fatalf("PCA result = %+v, want 5 components", res.PCA)
	}
	for i := 1; i < len(res.PCA.ExplainedVariance); i++ {
		if res.PCA.ExplainedVariance[i] > res.PCA.ExplainedVariance[i-1]+1e-12 {
			t.Errorf("explained variance not decreasing: %v", res.PCA.ExplainedVariance)
		}
	}

	for _, want := range []string{"Confusion matrix", "Classification report", "Feature importance", "PCA explained variance", "Failure30"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("stdout missing %q", want)
		}
	}

	csv, err := os.ReadFile(cfg.Output.FeaturesCSV)
	if err != nil {
		t.Fatalf("read features csv: %v", err)
	}
	header := strings.SplitN(string(csv), "\n", 2)[0]
	if !strings.Contains(header, "s2_mean3") || !strings.Contains(header, "s12_lag3") {
		t.Errorf("features csv header = %q", header)
	}

	metrics := parseTextfile(t, cfg.Output.MetricsFile)
	if metrics["rulwatch_runs_total,outcome=ok"] != 1 {
		t.Errorf("runs_total{outcome=ok} = %v", metrics["rulwatch_runs_total,outcome=ok"])
	}
	if metrics["rulwatch_rows,split=train,stage=kept"] != float64(res.Train.Kept) {
		t.Errorf("rows{train,kept} = %v, want %d", metrics["rulwatch_rows,split=train,stage=kept"], res.Train.Kept)
	}

	ids, err := pub.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(ids) != 1 || ids[0] != res.RunID {
		t.Errorf("published runs = %v, want [%s]", ids, res.RunID)
	}
}

func TestRun_CriticalGateFailsRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(newFleet(2).write(t, dir, 8, 6))
	cfg.Gates = []config.Gate{
		{Name: "always", Condition: "accuracy <= 1", Severity: "critical"},
		{Name: "pca-only", Condition: "pca_accuracy < 0.5", Severity: "critical"},
	}
	cfg.Notify.Webhooks = []config.WebhookConfig{{Type: "http", URLEnv: "RW_TEST_HOOK"}}

	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
	}))
	defer srv.Close()
	t.Setenv("RW_TEST_HOOK", srv.URL)

	r := NewRunner(cfg, Deps{
		Opener:   newOpener(t),
		Notifier: notify.New(cfg.Notify.Webhooks, srv.Client()),
	})
	res, err := r.Run(context.Background())
	if !errors.Is(err, ErrGateFailed) {
		t.Fatalf("Run: got %v, want ErrGateFailed", err)
	}
	if res == nil || len(res.Violations) != 1 || res.Violations[0].Gate != "always" {
		t.Fatalf("violations = %+v", res)
	}
	if n := atomic.LoadInt32(&posts); n != 1 {
		t.Errorf("webhook posts = %d, want 1", n)
	}
}

func TestRun_ComparesWithPreviousRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(newFleet(6).write(t, dir, 8, 6))
	hist := history.New(time.Hour)

	first, err := NewRunner(cfg, Deps{Opener: newOpener(t), History: hist}).Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(first.Changes) != 0 {
		t.Errorf("first run changes = %v, want none", first.Changes)
	}

	cfg.Model.Trees = 10
	second, err := NewRunner(cfg, Deps{Opener: newOpener(t), History: hist}).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(second.Changes) != len(second.Fields()) {
		t.Errorf("second run changes = %d, want %d", len(second.Changes), len(second.Fields()))
	}
	if hist.Count() != 2 {
		t.Errorf("history count = %d, want 2", hist.Count())
	}
}

func TestRun_MissingTruth(t *testing.T) {
	dir := t.TempDir()
	data := newFleet(3).write(t, dir, 4, 3)
	if err := os.WriteFile(data.Truth, []byte("10 \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(data)
	cfg.Output.MetricsFile = filepath.Join(dir, "rulwatch.prom")

	res, err := NewRunner(cfg, Deps{Opener: newOpener(t), Recorder: telemetry.NewRecorder()}).Run(context.Background())
	if !errors.Is(err, label.ErrMissingTruth) {
		t.Fatalf("Run: got %v, want ErrMissingTruth", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil on error", res)
	}
	if got := parseTextfile(t, cfg.Output.MetricsFile)["rulwatch_runs_total,outcome=error"]; got != 1 {
		t.Errorf("runs_total{outcome=error} = %v, want 1", got)
	}
}

func TestRun_MalformedTrain(t *testing.T) {
	dir := t.TempDir()
	data := newFleet(4).write(t, dir, 2, 2)
	if err := os.WriteFile(data.Train, []byte("1 1 0.1 0.2 0.3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewRunner(testConfig(data), Deps{Opener: newOpener(t)}).Run(context.Background())
	if !errors.Is(err, dataset.ErrMalformed) {
		t.Fatalf("Run: got %v, want ErrMalformed", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(newFleet(5).write(t, dir, 4, 3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRunner(cfg, Deps{Opener: newOpener(t)}).Run(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestResult_FieldsIncludePCA(t *testing.T) {
	res := &Result{}
	if _, ok := res.Fields()["pca_accuracy"]; ok {
		t.Error("pca fields present without a PCA result")
	}
	res.PCA = &PCAResult{}
	if _, ok := res.Fields()["pca_recall_failure"]; !ok {
		t.Error("pca_recall_failure missing")
	}
}
