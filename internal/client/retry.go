package client

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

// Family identifies a provider family for timeouts and metrics
type Family string

const (
	FamilyText          Family = "text"
	FamilyImage         Family = "image"
	FamilySpeech        Family = "speech"
	FamilyVideo         Family = "video"
	FamilyTranscription Family = "transcription"
)

// Retrier applies the per-call contract: attempt timeout, classification,
// exponential backoff with jitter and retry-after hints.
type Retrier struct {
	policy   config.RetryConfig
	timeouts map[Family]time.Duration
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

func NewRetrier(policy config.RetryConfig, timeouts config.TimeoutConfig, logger *zap.Logger) *Retrier {
	return &Retrier{
		policy: policy,
		timeouts: map[Family]time.Duration{
			FamilyText:          timeouts.Text,
			FamilyImage:         timeouts.Image,
			FamilySpeech:        timeouts.Speech,
			FamilyVideo:         timeouts.Video,
			FamilyTranscription: timeouts.Speech,
		},
		logger: logger.Named("retry"),
		now:    time.Now,
		sleep:  sleepContext,
		rand:   rand.Float64,
	}
}

// WithClock replaces the time source and sleeper.
func (r *Retrier) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	cp := *r
	cp.now = now
	cp.sleep = sleep
	return &cp
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the jittered delay before retry number attempt (1-based).
func (r *Retrier) Backoff(attempt int) time.Duration {
	base := float64(r.policy.BaseDelay) * math.Pow(r.policy.Factor, float64(attempt-1))
	jitter := 1 + r.policy.Jitter*(2*r.rand()-1)
	return time.Duration(base * jitter)
}

// Do runs fn under the retry policy of family.
func Do[T any](ctx context.Context, r *Retrier, family Family, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := r.now()
	maxAttempts := r.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, model.WrapError(model.KindCanceled, err, "%s call canceled", family)
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if d := r.timeouts[family]; d > 0 {
			actx, cancel = context.WithTimeout(ctx, d)
		}
		began := time.Now()
		v, err := fn(actx)
		timedOut := ctx.Err() == nil && actx.Err() == context.DeadlineExceeded
		cancel()
		providerCallDuration.WithLabelValues(string(family)).Observe(time.Since(began).Seconds())

		if err == nil {
			providerCallsTotal.WithLabelValues(string(family), "success").Inc()
			return v, nil
		}

		err = r.classify(ctx, family, err, timedOut)
		kind := model.KindOf(err)
		providerCallsTotal.WithLabelValues(string(family), string(kind)).Inc()

		if !kind.Retryable() || attempt >= maxAttempts {
			return zero, surface(err)
		}

		wait := r.Backoff(attempt)
		if kind == model.KindRateLimited {
			if ra := model.RetryAfterOf(err); ra > 0 {
				wait = ra
				if r.policy.MaxRetryAfter > 0 && wait > r.policy.MaxRetryAfter {
					wait = r.policy.MaxRetryAfter
				}
			}
		}
		if r.policy.MaxElapsed > 0 && r.now().Sub(start)+wait > r.policy.MaxElapsed {
			r.logger.Warn("Retry budget exhausted",
				zap.String("family", string(family)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return zero, surface(err)
		}

		providerRetriesTotal.WithLabelValues(string(family), string(kind)).Inc()
		r.logger.Debug("Retrying provider call",
			zap.String("family", string(family)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("kind", string(kind)))

		if err := r.sleep(ctx, wait); err != nil {
			return zero, model.WrapError(model.KindCanceled, err, "%s call canceled", family)
		}
	}
}

func (r *Retrier) classify(ctx context.Context, family Family, err error, timedOut bool) error {
	if ctx.Err() != nil {
		return model.WrapError(model.KindCanceled, err, "%s call canceled", family)
	}
	if timedOut {
		return model.WrapError(model.KindTimeout, err, "%s call exceeded %s", family, r.timeouts[family])
	}
	if model.IsKind(err, model.KindCanceled) {
		// a provider reporting cancellation without our context being done
		return model.WrapError(model.KindTransient, err, "%s call interrupted", family)
	}
	return classifyTransport(string(family), err)
}

// surface marks the final error so the UI can offer a retry when the kind allows it.
func surface(err error) error {
	kind := model.KindOf(err)
	if me, ok := err.(*model.Error); ok {
		cp := *me
		cp.Retryable = kind.Retryable()
		return &cp
	}
	return &model.Error{Kind: kind, Message: err.Error(), Retryable: kind.Retryable(), Cause: err}
}

// Wrap returns providers whose calls go through the retrier.
func (r *Retrier) Wrap(p *Providers) *Providers {
	out := *p
	if p.Text != nil {
		out.Text = &resilientText{next: p.Text, r: r}
	}
	out.Images = make(map[string]ImageGenerator, len(p.Images))
	for name, g := range p.Images {
		out.Images[name] = &resilientImage{next: g, r: r}
	}
	if p.Video != nil {
		out.Video = &resilientVideo{next: p.Video, r: r}
	}
	if p.Speech != nil {
		out.Speech = &resilientSpeech{next: p.Speech, r: r}
	}
	if p.Transcriber != nil {
		out.Transcriber = &resilientTranscriber{next: p.Transcriber, r: r}
	}
	return &out
}

type resilientText struct {
	next TextGenerator
	r    *Retrier
}

func (t *resilientText) GenerateText(ctx context.Context, req *TextRequest) (string, error) {
	return Do(ctx, t.r, FamilyText, func(ctx context.Context) (string, error) {
		return t.next.GenerateText(ctx, req)
	})
}

type resilientImage struct {
	next ImageGenerator
	r    *Retrier
}

func (g *resilientImage) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	return Do(ctx, g.r, FamilyImage, func(ctx context.Context) (*ImageResult, error) {
		return g.next.GenerateImage(ctx, req)
	})
}

type resilientVideo struct {
	next VideoGenerator
	r    *Retrier
}

func (g *resilientVideo) GenerateVideoFromImage(ctx context.Context, req *VideoRequest) (*VideoResult, error) {
	return Do(ctx, g.r, FamilyVideo, func(ctx context.Context) (*VideoResult, error) {
		return g.next.GenerateVideoFromImage(ctx, req)
	})
}

type resilientSpeech struct {
	next SpeechSynthesizer
	r    *Retrier
}

func (s *resilientSpeech) SynthesizeSpeech(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	return Do(ctx, s.r, FamilySpeech, func(ctx context.Context) (*SpeechResult, error) {
		return s.next.SynthesizeSpeech(ctx, req)
	})
}

type resilientTranscriber struct {
	next Transcriber
	r    *Retrier
}

func (t *resilientTranscriber) Transcribe(ctx context.Context, req *TranscriptionRequest) ([]TranscriptSegment, error) {
	return Do(ctx, t.r, FamilyTranscription, func(ctx context.Context) ([]TranscriptSegment, error) {
		return t.next.Transcribe(ctx, req)
	})
}
