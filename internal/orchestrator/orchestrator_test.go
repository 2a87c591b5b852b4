package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

func tasks(n int, run func(i int, ctx context.Context) (int, error)) []Task[int] {
	out := make([]Task[int], n)
	for i := range out {
		i := i
		out[i] = Task[int]{
			ID:          fmt.Sprintf("t%d", i),
			Fingerprint: fmt.Sprintf("input-%d", i),
			Run:         func(ctx context.Context) (int, error) { return run(i, ctx) },
		}
	}
	return out
}

func TestRunRespectsConcurrencyCap(t *testing.T) {
	o := New(zap.NewNop())
	var inFlight, peak int32

	res := Run(context.Background(), o, Batch[int]{
		Concurrency: 3,
		Tasks: tasks(12, func(i int, ctx context.Context) (int, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return i, nil
		}),
	})

	assert.Len(t, res.Succeeded, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRunDrawsFIFO(t *testing.T) {
	o := New(zap.NewNop())
	var mu sync.Mutex
	var started []int

	Run(context.Background(), o, Batch[int]{
		Concurrency: 1,
		Tasks: tasks(5, func(i int, ctx context.Context) (int, error) {
			mu.Lock()
			started = append(started, i)
			mu.Unlock()
			return i, nil
		}),
	})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, started)
}

func TestRunCollectsFailuresWithoutAborting(t *testing.T) {
	o := New(zap.NewNop())

	res := Run(context.Background(), o, Batch[int]{
		Concurrency: 2,
		Tasks: tasks(4, func(i int, ctx context.Context) (int, error) {
			if i == 1 {
				return 0, model.NewError(model.KindInvalidShape, "bad shot list")
			}
			return i, nil
		}),
	})

	require.Len(t, res.Succeeded, 3)
	require.Len(t, res.Failed, 1)
	failures := res.Failures()
	assert.Equal(t, "t1", failures[0].TaskID)
	assert.Equal(t, "input-1", failures[0].Fingerprint)
	assert.Equal(t, model.KindInvalidShape, failures[0].Kind)
}

func TestRunCancelKeepsFinishedWork(t *testing.T) {
	o := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	succeeded := 0

	res := Run(ctx, o, Batch[int]{
		Concurrency: 3,
		Tasks: tasks(10, func(i int, ctx context.Context) (int, error) {
			if i < 4 {
				return i, nil
			}
			<-ctx.Done()
			return 0, ctx.Err()
		}),
		OnItemDone: func(_ string, _ int, err error) {
			if err == nil {
				succeeded++
				if succeeded == 4 {
					cancel()
				}
			}
		},
	})

	assert.Len(t, res.Succeeded, 4)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Canceled, 6)
}

func TestRunReportsWeightedProgress(t *testing.T) {
	o := New(zap.NewNop())
	var last float64
	var calls int

	b := Batch[int]{
		Concurrency: 1,
		Tasks: []Task[int]{
			{ID: "a", Weight: 3, Run: func(ctx context.Context) (int, error) { return 1, nil }},
			{ID: "b", Weight: 1, Run: func(ctx context.Context) (int, error) { return 0, errors.New("boom") }},
		},
		OnProgress: func(done, total int, pct float64) {
			calls++
			if calls == 1 {
				assert.InDelta(t, 75, pct, 0.001)
			}
			last = pct
			assert.Equal(t, 2, total)
		},
	}
	Run(context.Background(), o, b)

	assert.Equal(t, 2, calls)
	assert.InDelta(t, 100, last, 0.001)
}

func TestRunRecoversPanickingTask(t *testing.T) {
	o := New(zap.NewNop())

	res := Run(context.Background(), o, Batch[int]{
		Tasks: tasks(2, func(i int, ctx context.Context) (int, error) {
			if i == 0 {
				panic("nil map")
			}
			return i, nil
		}),
	})

	assert.Len(t, res.Succeeded, 1)
	assert.Len(t, res.Failed, 1)
}

func TestRunEmptyBatch(t *testing.T) {
	o := New(zap.NewNop())
	var pct float64

	res := Run(context.Background(), o, Batch[int]{
		OnProgress: func(_, _ int, p float64) { pct = p },
	})

	assert.Empty(t, res.Succeeded)
	assert.Equal(t, 100.0, pct)
}

func TestFingerprintTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 100)

	fp := Fingerprint(long)

	assert.True(t, utf8.ValidString(fp))
	assert.Equal(t, 80, utf8.RuneCountInString(fp))
	assert.True(t, strings.HasSuffix(fp, "..."))
	assert.Equal(t, "short|input", Fingerprint("short", "input"))
}
