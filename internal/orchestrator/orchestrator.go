package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

// Task is one unit of provider work inside a batch
type Task[T any] struct {
	ID string
	// Fingerprint identifies the task input in failure diagnostics
	Fingerprint string
	// Weight is the share of batch progress this task represents. Zero means 1.
	Weight float64
	Run    func(ctx context.Context) (T, error)
}

// Batch is a set of tasks run under one concurrency cap. Callbacks are
// invoked one at a time on the goroutine that called Run.
type Batch[T any] struct {
	Name        string
	Tasks       []Task[T]
	Concurrency int
	OnItemDone  func(taskID string, value T, err error)
	OnProgress  func(done, total int, percent float64)
}

// Outcome is a succeeded task and its value
type Outcome[T any] struct {
	TaskID string
	Value  T
}

// PartialResult is what a batch settles with. A batch never fails as a whole.
type PartialResult[T any] struct {
	Succeeded []Outcome[T]
	Failed    []error
	Canceled  []string
}

// Failures converts failed tasks into their reportable form.
func (r *PartialResult[T]) Failures() []model.TaskFailure {
	out := make([]model.TaskFailure, 0, len(r.Failed))
	for _, err := range r.Failed {
		f := model.TaskFailure{
			Kind:      model.KindOf(err),
			Message:   err.Error(),
			Retryable: model.IsRetryable(err),
		}
		var me *model.Error
		if errors.As(err, &me) {
			f.TaskID = me.TaskID
			f.Fingerprint = me.Fingerprint
			if me.Message != "" {
				f.Message = me.Message
			}
		}
		out = append(out, f)
	}
	return out
}

// Orchestrator runs task batches with bounded concurrency
type Orchestrator struct {
	logger  *zap.Logger
	batches atomic.Uint64
}

func New(logger *zap.Logger) *Orchestrator {
	return &Orchestrator{logger: logger.Named("orchestrator")}
}

type settlement[T any] struct {
	index int
	value T
	err   error
}

// Run executes the batch. Tasks are drawn in FIFO order with at most
// b.Concurrency outstanding. Cancelling ctx signals every outstanding task;
// Run still waits for them, and tasks never issued are reported canceled.
// Each Run settles through its own channel, so a settlement can only reach
// the batch that issued it. The sequence number only tags log lines.
func Run[T any](ctx context.Context, o *Orchestrator, b Batch[T]) *PartialResult[T] {
	seq := o.batches.Add(1)
	result := &PartialResult[T]{}
	total := len(b.Tasks)
	logger := o.logger.With(zap.String("batch", b.Name), zap.Uint64("seq", seq))

	progress := func(done int, weight, totalWeight float64) {
		if b.OnProgress == nil {
			return
		}
		pct := 100.0
		if totalWeight > 0 {
			pct = weight / totalWeight * 100
		}
		if pct < 0 {
			pct = 0
		} else if pct > 100 {
			pct = 100
		}
		b.OnProgress(done, total, pct)
	}

	if total == 0 {
		progress(0, 0, 0)
		return result
	}

	concurrency := b.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var totalWeight float64
	for _, t := range b.Tasks {
		totalWeight += weightOf(t)
	}

	results := make(chan settlement[T], total)
	launch := func(i int) {
		task := b.Tasks[i]
		go func() {
			var s settlement[T]
			s.index = i
			defer func() {
				if r := recover(); r != nil {
					s.err = model.NewError(model.KindTransient, "task panicked: %v", r)
				}
				results <- s
			}()
			s.value, s.err = task.Run(ctx)
		}()
	}

	next, outstanding, done := 0, 0, 0
	var completedWeight float64
	fill := func() {
		for outstanding < concurrency && next < total && ctx.Err() == nil {
			launch(next)
			next++
			outstanding++
		}
	}

	logger.Debug("Batch started", zap.Int("tasks", total), zap.Int("concurrency", concurrency))
	fill()
	for outstanding > 0 {
		s := <-results
		outstanding--
		done++
		task := b.Tasks[s.index]

		switch {
		case s.err == nil:
			result.Succeeded = append(result.Succeeded, Outcome[T]{TaskID: task.ID, Value: s.value})
			completedWeight += weightOf(task)
		case ctx.Err() != nil && model.IsKind(s.err, model.KindCanceled):
			result.Canceled = append(result.Canceled, task.ID)
		default:
			err := model.WithTask(s.err, task.ID, task.Fingerprint)
			result.Failed = append(result.Failed, err)
			completedWeight += weightOf(task)
			logger.Warn("Task failed", zap.String("task", task.ID), zap.Error(s.err))
			s.err = err
		}

		if b.OnItemDone != nil {
			b.OnItemDone(task.ID, s.value, s.err)
		}
		progress(done, completedWeight, totalWeight)
		fill()
	}

	for ; next < total; next++ {
		result.Canceled = append(result.Canceled, b.Tasks[next].ID)
	}

	logger.Debug("Batch settled",
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("canceled", len(result.Canceled)),
	)
	return result
}

func weightOf[T any](t Task[T]) float64 {
	if t.Weight > 0 {
		return t.Weight
	}
	return 1
}

// Fingerprint builds a short input fingerprint from parts.
func Fingerprint(parts ...string) string {
	s := strings.Join(parts, "|")
	if utf8.RuneCountInString(s) > 80 {
		s = string([]rune(s)[:77]) + "..."
	}
	return s
}
