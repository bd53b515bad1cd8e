// Package training runs the offline pipeline that turns labelled metric
// datasets into a persisted, explainable defect model:
//
//	load -> split -> resample (train only) -> search per family -> stack -> evaluate -> persist
//
// A run is deterministic for a given seed and dataset.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"defect-predictor/internal/artifact"
	"defect-predictor/internal/dataset"
	"defect-predictor/internal/evaluate"
	"defect-predictor/internal/features"
	"defect-predictor/internal/ml"
	"defect-predictor/internal/resample"
	"defect-predictor/internal/search"
	"defect-predictor/internal/storage"
)

// Pipeline stages
const (
	StageLoad     = "load"
	StageSplit    = "split"
	StageResample = "resample"
	StageSearch   = "search"
	StageStack    = "stack"
	StageEvaluate = "evaluate"
	StagePersist  = "persist"
)

// StackingReport is the key of the ensemble's report.
const StackingReport = "stacking"

// StageError wraps a failure with the stage (and model family, if any) it
// happened in.
type StageError struct {
	Stage  string
	Family string
	Err    error
}

func (e *StageError) Error() string {
	if e.Family != "" {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.Family, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Recorder receives pipeline telemetry.
type Recorder interface {
	StageObserve(stage string, d time.Duration)
	RunFinished(status string)
	SearchScoreSet(family string, f1 float64)
}

type nopRecorder struct{}

func (nopRecorder) StageObserve(string, time.Duration) {}
func (nopRecorder) RunFinished(string)                 {}
func (nopRecorder) SearchScoreSet(string, float64)     {}

// Result summarises a successful run.
type Result struct {
	RunID         string
	ArtifactPath  string
	Artifact      *artifact.Artifact
	Reports       map[string]evaluate.Report
	Importance    []evaluate.FeatureImportance
	Searches      map[string]search.Result
	DatasetRows   int
	TrainRows     int
	ResampledRows int
	ValRows       int
	TestRows      int
}

// Pipeline trains and persists one model per Run.
type Pipeline struct {
	cfg      Config
	store    *storage.Store
	recorder Recorder
}

// New creates a pipeline. store may be nil to skip run history.
func New(cfg Config, store *storage.Store) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults(), store: store, recorder: nopRecorder{}}
}

// SetRecorder installs a telemetry sink.
func (p *Pipeline) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	p.recorder = r
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run executes every stage. A failed run is still recorded in the run store.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	run := storage.RunRecord{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Schema:    p.cfg.SchemaName,
		Seed:      p.cfg.Seed,
	}

	log.Info().
		Str("run_id", run.ID).
		Str("schema", p.cfg.SchemaName).
		Int64("seed", p.cfg.Seed).
		Int("iterations", p.cfg.SearchIterations).
		Strs("bases", p.cfg.BaseFamilies).
		Str("meta", p.cfg.MetaFamily).
		Msg("Starting training run")

	res, err := p.run(ctx, run.ID, run.StartedAt)

	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Status = storage.StatusFailed
		run.Error = err.Error()
	} else {
		run.Status = storage.StatusSucceeded
		run.ArtifactPath = res.ArtifactPath
		run.Reports = res.Reports
		run.BestParams = res.Artifact.Params
	}
	if res != nil {
		run.DatasetRows, run.TrainRows, run.ValRows, run.TestRows = res.DatasetRows, res.TrainRows, res.ValRows, res.TestRows
	}
	p.recorder.RunFinished(run.Status)

	if p.store != nil {
		if serr := p.store.SaveRun(run); serr != nil {
			log.Error().Err(serr).Str("run_id", run.ID).Msg("Failed to record training run")
			if err == nil {
				err = &StageError{Stage: StagePersist, Err: serr}
			}
		}
	}

	if err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Dur("elapsed", run.Duration()).Msg("Training run failed")
		return nil, err
	}

	log.Info().
		Str("run_id", run.ID).
		Str("artifact", res.ArtifactPath).
		Float64("f1", res.Reports[StackingReport].F1Score).
		Dur("elapsed", run.Duration()).
		Msg("Training run complete")
	return res, nil
}

// run returns a partially filled Result alongside any error so row counts of
// failed runs are still recorded.
func (p *Pipeline) run(ctx context.Context, runID string, startedAt time.Time) (*Result, error) {
	c := p.cfg
	if err := c.validate(); err != nil {
		return nil, &StageError{Stage: StageLoad, Err: err}
	}
	res := &Result{RunID: runID, Searches: make(map[string]search.Result)}

	schema, _ := features.SchemaByName(c.SchemaName)

	// load
	var ds *dataset.Dataset
	err := p.stage(ctx, StageLoad, func() error {
		var err error
		if len(c.Files) > 0 {
			ds, err = dataset.LoadFiles(c.Files, schema, c.TargetColumn)
		} else {
			ds, err = dataset.LoadDir(c.DatasetDir, schema, c.TargetColumn)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	res.DatasetRows = ds.Len()

	// split
	var train, val, test *dataset.Dataset
	err = p.stage(ctx, StageSplit, func() error {
		var err error
		train, val, test, err = dataset.Split(ds, c.TrainFraction, c.ValFraction, c.Seed)
		if err != nil {
			return err
		}
		if val.Len() == 0 || test.Len() == 0 {
			return fmt.Errorf("%d rows leave an empty validation or test split", ds.Len())
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.TrainRows, res.ValRows, res.TestRows = train.Len(), val.Len(), test.Len()

	// resample
	var balanced *dataset.Dataset
	err = p.stage(ctx, StageResample, func() error {
		var err error
		smote := resample.SMOTE{K: c.SMOTENeighbors, Ratio: c.BalanceRatio, Seed: c.Seed}
		balanced, err = smote.Resample(train)
		return err
	})
	if err != nil {
		return res, err
	}
	res.ResampledRows = balanced.Len()

	// search
	// best holds the searched configurations; tuned adds the fixed seed the
	// models are built with.
	best := make(map[string]ml.Params)
	tuned := make(map[string]ml.Params)
	err = p.stage(ctx, StageSearch, func() error {
		families := append(append([]string{}, c.BaseFamilies...), c.Standalone...)
		for i, name := range families {
			if _, done := best[name]; done {
				continue
			}
			fam, _ := ml.LookupFamily(name)
			engine := &search.Engine{
				Strategy: search.NewRandomSearch(c.Seed + int64(i)),
				Required: fam.Required,
				Name:     name,
				Fixed:    ml.Params{"seed": int(c.Seed)},
			}
			sr, err := engine.Optimize(ctx, search.Factory(fam.New), balanced, val, c.space(fam), c.SearchIterations)
			if err != nil {
				return &StageError{Stage: StageSearch, Family: name, Err: err}
			}
			res.Searches[name] = sr
			best[name] = sr.Best
			tuned[name] = engine.Configure(sr.Best)
			p.recorder.SearchScoreSet(name, sr.BestScore)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	// stack
	var stack *ml.Stack
	err = p.stage(ctx, StageStack, func() error {
		bases := make([]ml.ModelSpec, len(c.BaseFamilies))
		for i, name := range c.BaseFamilies {
			bases[i] = ml.ModelSpec{Family: name, Params: tuned[name]}
		}
		meta := ml.ModelSpec{Family: c.MetaFamily, Params: ml.Params{"seed": int(c.Seed)}}
		var err error
		stack, err = ml.FitStack(balanced.X(), balanced.Y(), bases, meta, ml.StackOptions{Folds: c.StackFolds, Seed: c.Seed})
		return err
	})
	if err != nil {
		return res, err
	}

	// evaluate
	err = p.stage(ctx, StageEvaluate, func() error {
		reports, err := p.evaluateAll(stack, tuned, balanced, test)
		if err != nil {
			return err
		}
		res.Reports = reports
		res.Importance, err = evaluate.PermutationImportance(stack, test, importanceRepeats, c.Seed)
		return err
	})
	if err != nil {
		return res, err
	}

	// persist
	err = p.stage(ctx, StagePersist, func() error {
		a := &artifact.Artifact{
			Version:    runID,
			TrainedAt:  startedAt,
			SchemaName: c.SchemaName,
			Schema:     schema,
			Model:      stack,
			Background: dataset.Sample(train, c.BackgroundSize, c.Seed),
			Reports:    res.Reports,
			Importance: res.Importance,
			Params:     best,
		}
		path := c.ArtifactPath()
		if err := a.Save(path); err != nil {
			return err
		}
		if err := evaluate.WriteReport(filepath.Join(c.OutputDir, evaluate.ResultsFile), res.Reports); err != nil {
			return err
		}
		if err := evaluate.WriteSummary(filepath.Join(c.OutputDir, evaluate.SummaryFile), res.Reports); err != nil {
			return err
		}
		if err := evaluate.WriteImportance(filepath.Join(c.OutputDir, evaluate.ImportanceFile), res.Importance); err != nil {
			return err
		}
		if err := writeSearches(filepath.Join(c.OutputDir, SearchFile), res.Searches); err != nil {
			return err
		}
		res.Artifact, res.ArtifactPath = a, path
		return nil
	})
	if err != nil {
		return res, err
	}

	return res, nil
}

// evaluateAll scores the stack, every tuned base refit on the balanced set and
// every standalone family on the test split.
func (p *Pipeline) evaluateAll(stack *ml.Stack, best map[string]ml.Params, train, test *dataset.Dataset) (map[string]evaluate.Report, error) {
	reports := make(map[string]evaluate.Report)

	rep, err := evaluate.Evaluate(stack, test)
	if err != nil {
		return nil, err
	}
	reports[StackingReport] = rep

	for i, name := range stack.BaseNames {
		if _, done := reports[name]; done {
			continue
		}
		if reports[name], err = evaluate.Evaluate(stack.Bases[i], test); err != nil {
			return nil, &StageError{Stage: StageEvaluate, Family: name, Err: err}
		}
	}

	X, y := train.X(), train.Y()
	for _, name := range p.cfg.Standalone {
		if _, done := reports[name]; done {
			continue
		}
		model, err := ml.ModelSpec{Family: name, Params: best[name]}.Build()
		if err == nil {
			err = model.Fit(X, y)
		}
		if err == nil {
			reports[name], err = evaluate.Evaluate(model, test)
		}
		if err != nil {
			return nil, &StageError{Stage: StageEvaluate, Family: name, Err: err}
		}
	}

	for name, r := range reports {
		log.Info().
			Str("model", name).
			Float64("accuracy", r.Accuracy).
			Float64("precision", r.Precision).
			Float64("recall", r.Recall).
			Float64("f1", r.F1Score).
			Msg("Test set evaluation")
	}
	return reports, nil
}

// stage runs fn, records its duration and wraps any error with the stage name
// unless fn already did.
func (p *Pipeline) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.recorder.StageObserve(name, elapsed)

	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return err
		}
		return &StageError{Stage: name, Err: err}
	}
	log.Debug().Str("stage", name).Dur("elapsed", elapsed).Msg("Training stage complete")
	return nil
}

func writeSearches(path string, searches map[string]search.Result) error {
	data, err := json.MarshalIndent(searches, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal search results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write search results: %w", err)
	}
	return nil
}
