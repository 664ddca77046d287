package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rulwatch/rulwatch/pkg/types"
	"github.com/rulwatch/rulwatch/trainer/internal/config"
	"github.com/rulwatch/rulwatch/trainer/internal/dataset"
	"github.com/rulwatch/rulwatch/trainer/internal/evaluate"
	"github.com/rulwatch/rulwatch/trainer/internal/features"
	"github.com/rulwatch/rulwatch/trainer/internal/history"
	"github.com/rulwatch/rulwatch/trainer/internal/label"
	"github.com/rulwatch/rulwatch/trainer/internal/model"
	"github.com/rulwatch/rulwatch/trainer/internal/notify"
	"github.com/rulwatch/rulwatch/trainer/internal/telemetry"
)

// ErrGateFailed is returned by Run when a critical quality gate fired.
// The Result is still complete and has been published.
var ErrGateFailed = errors.New("pipeline: critical quality gate failed")

// Publisher stores a finished run's report.
type Publisher interface {
	Publish(ctx context.Context, runID string, at time.Time, report any) error
}

// Notifier delivers a fired gate and returns the number of failed targets.
type Notifier interface {
	Deliver(ctx context.Context, ev notify.Event) int
}

// Deps are the collaborators of a Runner. Opener and Out are required;
// the rest may be nil.
type Deps struct {
	Opener    dataset.Opener
	Out       io.Writer
	Recorder  *telemetry.Recorder
	Publisher Publisher
	Notifier  Notifier
	History   *history.Store
}

// SplitStats summarises one data split as it moves through the stages.
type SplitStats struct {
	Rows    int `json:"rows"`
	Engines int `json:"engines"`
	Healthy int `json:"healthy"`
	Failing int `json:"failing"`
	Kept    int `json:"kept"`
	Dropped int `json:"dropped"`
}

// Evaluation is the scored outcome of one model variant.
type Evaluation struct {
	Confusion evaluate.Confusion `json:"confusion"`
	Report    evaluate.Report    `json:"report"`
}

// PCAResult is the evaluation of the classifier refit on principal components.
type PCAResult struct {
	Components        int       `json:"components"`
	ExplainedVariance []float64 `json:"explained_variance"`
	Evaluation
}

// Result is the report of one training run.
type Result struct {
	RunID       string               `json:"run_id"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Train       SplitStats           `json:"train"`
	Test        SplitStats           `json:"test"`
	Features    []string             `json:"features"`
	Raw         Evaluation           `json:"raw"`
	Importances []model.Importance   `json:"importances"`
	PCA         *PCAResult           `json:"pca,omitempty"`
	Violations  []evaluate.Violation `json:"violations,omitempty"`
	Changes     []history.Change     `json:"changes,omitempty"`
}

// Fields returns the gate fields of the result: the raw report's fields
// plus, when PCA ran, the same fields prefixed "pca_".
func (r *Result) Fields() map[string]float64 {
	out := r.Raw.Report.Fields("")
	if r.PCA != nil {
		for k, v := range r.PCA.Report.Fields("pca_") {
			out[k] = v
		}
	}
	return out
}

// Runner executes the load → label → features → fit → evaluate pipeline.
type Runner struct {
	cfg  *config.Config
	deps Deps
	now  func() time.Time
}

// NewRunner returns a Runner for cfg.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	return &Runner{cfg: cfg, deps: deps, now: time.Now}
}

// Run executes one training run. A non-nil Result is returned together with
// ErrGateFailed when a critical gate fired; any other error aborts the run.
func (r *Runner) Run(ctx context.Context) (res *Result, err error) {
	res = &Result{RunID: uuid.NewString(), StartedAt: r.now()}
	log := slog.With("run", res.RunID)
	log.Info("pipeline: run started")

	defer func() {
		res.FinishedAt = r.now()
		if ferr := r.finish(res, err); ferr != nil && err == nil {
			err = ferr
		}
		if err != nil && !errors.Is(err, ErrGateFailed) {
			log.Error("pipeline: run failed", "err", err)
			res = nil
			return
		}
		log.Info("pipeline: run finished", "duration", res.FinishedAt.Sub(res.StartedAt))
	}()

	// Load.
	start := time.Now()
	trainObs, testObs, truth, err := dataset.Load(ctx, r.deps.Opener, r.cfg.Data)
	if err != nil {
		return res, fmt.Errorf("pipeline: load: %w", err)
	}
	r.stage("load", start)
	res.Train.Rows, res.Test.Rows = len(trainObs), len(testObs)
	res.Train.Engines, res.Test.Engines = len(dataset.Split(trainObs)), len(dataset.Split(testObs))
	r.rows("train", "loaded", res.Train.Rows, res.Train.Engines)
	r.rows("test", "loaded", res.Test.Rows, res.Test.Engines)
	for _, s := range dataset.Split(testObs) {
		log.Debug("pipeline: test engine", "id", s.ID, "cycles", len(s.Obs))
	}

	// Label.
	start = time.Now()
	trainRows := label.Train(trainObs, r.cfg.Label.Window)
	testRows, err := label.Test(testObs, truth, r.cfg.Label.Window)
	if err != nil {
		return res, fmt.Errorf("pipeline: label test split: %w", err)
	}
	r.stage("label", start)
	res.Train.Healthy, res.Train.Failing = label.Counts(trainRows)
	res.Test.Healthy, res.Test.Failing = label.Counts(testRows)
	slog.Info("pipeline: labeled",
		"window", r.cfg.Label.Window,
		"train_failing", res.Train.Failing,
		"test_failing", res.Test.Failing,
	)

	// Features.
	start = time.Now()
	eng, err := features.New(r.cfg.Features)
	if err != nil {
		return res, fmt.Errorf("pipeline: %w", err)
	}
	trainF, err := r.transform(eng, "train", trainRows, &res.Train)
	if err != nil {
		return res, err
	}
	testF, err := r.transform(eng, "test", testRows, &res.Test)
	if err != nil {
		return res, err
	}
	r.stage("features", start)
	if err := model.CheckColumns(trainF.Columns, testF.Columns); err != nil {
		return res, fmt.Errorf("pipeline: %w", err)
	}
	res.Features = trainF.Columns

	if r.cfg.Output.FeaturesCSV != "" {
		if err := writeCSV(r.cfg.Output.FeaturesCSV, trainF); err != nil {
			return res, err
		}
		slog.Info("pipeline: features exported", "path", r.cfg.Output.FeaturesCSV)
	}

	// Fit and evaluate on the engineered features.
	if err := ctx.Err(); err != nil {
		return res, err
	}
	clf, eval, err := r.fitEvaluate("raw", trainF.X, testF.X, trainF.Labels, testF.Labels, trainF.Columns)
	if err != nil {
		return res, err
	}
	res.Raw = eval
	res.Importances = clf.FeatureImportances()

	// Optional refit on principal components.
	if r.cfg.PCA.Enabled {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if res.PCA, err = r.pca(trainF, testF); err != nil {
			return res, err
		}
	}

	if err := r.render(res); err != nil {
		return res, fmt.Errorf("pipeline: write report: %w", err)
	}

	return res, r.gates(ctx, res)
}

func (r *Runner) transform(eng *features.Engineer, split string, rows []types.Labeled, st *SplitStats) (*features.Frame, error) {
	f, stats, err := eng.Transform(rows)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s features: %w", split, err)
	}
	st.Kept, st.Dropped = stats.RowsOut, stats.Dropped
	r.rows(split, "kept", stats.RowsOut, stats.Engines)
	slog.Info("pipeline: features engineered",
		"split", split,
		"rows_in", stats.RowsIn,
		"rows_out", stats.RowsOut,
		"dropped", stats.Dropped,
		"columns", stats.Columns,
	)
	return f, nil
}

func (r *Runner) fitEvaluate(variant string, trainX, testX [][]float64, trainY, testY []int, names []string) (*model.Classifier, Evaluation, error) {
	start := time.Now()
	clf := model.NewClassifier(model.ParamsFrom(r.cfg.Model))
	if err := clf.Fit(trainX, trainY, names); err != nil {
		return nil, Evaluation{}, fmt.Errorf("pipeline: fit %s: %w", variant, err)
	}
	r.stage("fit_"+variant, start)

	pred, err := clf.Predict(testX)
	if err != nil {
		return nil, Evaluation{}, fmt.Errorf("pipeline: predict %s: %w", variant, err)
	}
	conf, err := evaluate.NewConfusion(testY, pred)
	if err != nil {
		return nil, Evaluation{}, fmt.Errorf("pipeline: evaluate %s: %w", variant, err)
	}
	eval := Evaluation{Confusion: conf, Report: evaluate.Classification(conf)}
	if r.deps.Recorder != nil {
		r.deps.Recorder.Evaluation(variant, eval.Report)
	}
	slog.Info("pipeline: evaluated",
		"variant", variant,
		"accuracy", eval.Report.Accuracy,
		"recall_failure", eval.Report.Classes[1].Recall,
		"precision_failure", eval.Report.Classes[1].Precision,
	)
	return clf, eval, nil
}

func (r *Runner) pca(trainF, testF *features.Frame) (*PCAResult, error) {
	start := time.Now()
	p := model.NewPCA(r.cfg.PCA.Components)
	if err := p.Fit(trainF.X); err != nil {
		return nil, fmt.Errorf("pipeline: pca: %w", err)
	}
	trainX, err := p.Transform(trainF.X)
	if err != nil {
		return nil, fmt.Errorf("pipeline: pca train: %w", err)
	}
	testX, err := p.Transform(testF.X)
	if err != nil {
		return nil, fmt.Errorf("pipeline: pca test: %w", err)
	}
	r.stage("pca", start)

	_, eval, err := r.fitEvaluate("pca", trainX, testX, trainF.Labels, testF.Labels, p.Names())
	if err != nil {
		return nil, err
	}
	return &PCAResult{
		Components:        p.Components(),
		ExplainedVariance: p.ExplainedVarianceRatio(),
		Evaluation:        eval,
	}, nil
}

// gates compares against the previous run, checks quality gates, notifies
// fired ones and publishes the report.
func (r *Runner) gates(ctx context.Context, res *Result) error {
	fields := res.Fields()
	if h := r.deps.History; h != nil {
		if prev, ok := h.Latest(); ok {
			res.Changes = history.Diff(prev.Fields, fields)
			for _, c := range res.Changes {
				slog.Debug("pipeline: change since previous run",
					"previous_run", prev.RunID, "field", c.Field, "delta", c.Delta)
			}
		}
		h.Put(res.RunID, fields)
	}

	fired, unknown := evaluate.CheckGates(r.cfg.Gates, fields)
	for _, name := range unknown {
		slog.Warn("pipeline: gate skipped, unknown field or bad condition", "gate", name)
	}
	res.Violations = fired

	critical := false
	for _, v := range fired {
		slog.Warn("pipeline: gate fired", "gate", v.Gate, "severity", v.Severity, "field", v.Field, "value", v.Value)
		if v.Critical() {
			critical = true
		}
		if r.deps.Notifier != nil {
			r.deps.Notifier.Deliver(ctx, notify.Event{RunID: res.RunID, Violation: v, At: r.now()})
		}
	}
	if r.deps.Recorder != nil {
		r.deps.Recorder.Gates(fired)
	}

	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.Publish(ctx, res.RunID, res.StartedAt, res); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		slog.Info("pipeline: report published", "run", res.RunID)
	}

	if critical {
		return ErrGateFailed
	}
	return nil
}

// finish records the run outcome and writes the metrics textfile.
func (r *Runner) finish(res *Result, runErr error) error {
	rec := r.deps.Recorder
	if rec == nil {
		return nil
	}
	outcome := "ok"
	switch {
	case errors.Is(runErr, ErrGateFailed):
		outcome = "gate_failed"
	case runErr != nil:
		outcome = "error"
	}
	rec.Finish(outcome, res.FinishedAt)

	if path := r.cfg.Output.MetricsFile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	return nil
}

func (r *Runner) stage(name string, start time.Time) {
	d := time.Since(start)
	if r.deps.Recorder != nil {
		r.deps.Recorder.Stage(name, d)
	}
	slog.Debug("pipeline: stage done", "stage", name, "duration", d)
}

func (r *Runner) rows(split, stage string, rows, engines int) {
	if r.deps.Recorder != nil {
		r.deps.Recorder.Rows(split, stage, rows)
		r.deps.Recorder.Engines(split, engines)
	}
}

func writeCSV(path string, f *features.Frame) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pipeline: create %s: %w", path, err)
	}
	if err := f.WriteCSV(out); err != nil {
		out.Close()
		return fmt.Errorf("pipeline: write %s: %w", path, err)
	}
	return out.Close()
}
