package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/orchestrator"
	"github.com/makeasinger/storystudio/internal/schemas"
	"github.com/makeasinger/storystudio/internal/state"
)

// Reporter receives progress and warnings of running stages
type Reporter interface {
	Progress(stage model.StageID, message string, percent float64)
	Warn(stage model.StageID, message string)
}

// BlobStore holds generated media that has no durable URL
type BlobStore interface {
	Put(data []byte, contentType string) string
	Get(ref string) ([]byte, bool)
}

// Options configures a Pipeline
type Options struct {
	ProjectID   string
	Concurrency config.ConcurrencyConfig
	Voice       string
}

// Pipeline runs the generation services of a project. Provider calls go
// through the orchestrator and every result is committed through the store.
type Pipeline struct {
	store     *state.Store
	providers *client.Providers
	orch      *orchestrator.Orchestrator
	reporter  Reporter
	blobs     BlobStore
	opts      Options
	logger    *zap.Logger

	newID func() string
	now   func() time.Time
}

func New(store *state.Store, providers *client.Providers, orch *orchestrator.Orchestrator, reporter Reporter, blobs BlobStore, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		providers: providers,
		orch:      orch,
		reporter:  reporter,
		blobs:     blobs,
		opts:      opts,
		logger:    logger.Named("pipeline"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// RunStage performs the generation work of stage. Stages without generation
// succeed immediately.
func (p *Pipeline) RunStage(ctx context.Context, stage model.StageID) error {
	p.logger.Info("Running stage", zap.String("stage", string(stage)), zap.String("project", p.opts.ProjectID))
	switch stage {
	case model.StageBreakdown:
		return p.Breakdown(ctx)
	case model.StageScript:
		return p.Screenplay(ctx)
	case model.StageCharacters:
		if err := p.Cast(ctx); err != nil {
			return err
		}
		return p.GeneratePortraits(ctx)
	case model.StageShots:
		return p.Shots(ctx)
	case model.StageStoryboard:
		return p.Storyboard(ctx)
	case model.StageNarration:
		return p.Narration(ctx)
	case model.StageAnimation:
		return p.Animation(ctx)
	case model.StageExport:
		return p.Export(ctx)
	}
	return nil
}

func (p *Pipeline) progress(stage model.StageID, message string, percent float64) {
	if p.reporter != nil {
		p.reporter.Progress(stage, message, percent)
	}
}

func (p *Pipeline) warn(stage model.StageID, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.logger.Warn("Pipeline warning", zap.String("stage", string(stage)), zap.String("message", msg))
	if p.reporter != nil {
		p.reporter.Warn(stage, msg)
	}
}

// generate sends a structured text request and decodes the answer into T.
func generate[T any](ctx context.Context, p *Pipeline, req *client.TextRequest) (*T, error) {
	raw, err := p.providers.Text.GenerateText(ctx, req)
	if err != nil {
		return nil, err
	}
	return schemas.Decode[T](raw)
}

// runOne runs a single provider task through the orchestrator.
func runOne[T any](ctx context.Context, p *Pipeline, name, taskID, fingerprint string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	res := orchestrator.Run(ctx, p.orch, orchestrator.Batch[T]{
		Name:        name,
		Concurrency: 1,
		Tasks:       []orchestrator.Task[T]{{ID: taskID, Fingerprint: fingerprint, Run: fn}},
	})
	switch {
	case len(res.Succeeded) == 1:
		return res.Succeeded[0].Value, nil
	case len(res.Failed) == 1:
		return zero, res.Failed[0]
	}
	return zero, canceled(ctx, name)
}

func canceled(ctx context.Context, name string) error {
	return model.WrapError(model.KindCanceled, ctx.Err(), "%s canceled", name)
}

// BatchError reports the failed tasks of a batch whose other results were
// committed. It classifies as its first failure.
type BatchError struct {
	Stage    model.StageID
	Total    int
	Failures []model.TaskFailure
	first    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d %s tasks failed: %v", len(e.Failures), e.Total, e.Stage, e.first)
}

func (e *BatchError) Unwrap() error {
	return e.first
}

// settle turns a batch result into the stage outcome: canceled when the
// context ended before every task ran, a BatchError when tasks failed.
func settle[T any](ctx context.Context, stage model.StageID, total int, res *orchestrator.PartialResult[T]) error {
	if len(res.Canceled) > 0 && ctx.Err() != nil {
		return model.WrapError(model.KindCanceled, ctx.Err(), "%s canceled with %d of %d tasks done", stage, len(res.Succeeded), total)
	}
	if len(res.Failed) == 0 {
		return nil
	}
	return &BatchError{Stage: stage, Total: total, Failures: res.Failures(), first: res.Failed[0]}
}

// batchProgress forwards orchestrator progress as stage progress.
func (p *Pipeline) batchProgress(stage model.StageID, noun string) func(done, total int, percent float64) {
	return func(done, total int, percent float64) {
		p.progress(stage, fmt.Sprintf("%d/%d %s", done, total, noun), percent)
	}
}

// commit applies a mutation produced by a finished task. Rejections are
// logged; the batch goes on.
func (p *Pipeline) commit(stage model.StageID, label string, m state.Mutation) error {
	err := p.store.Apply(label, m)
	if err != nil && !errors.Is(err, errSkip) {
		p.logger.Warn("Result not committed", zap.String("stage", string(stage)), zap.String("label", label), zap.Error(err))
		return err
	}
	return nil
}

// errSkip aborts a mutation whose target disappeared while the task ran.
var errSkip = model.NewError(model.KindNotFound, "target no longer exists")

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
