package client

import (
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
)

// NewProviders builds the provider set from configuration. Capabilities
// without credentials fall back to their mocks so the studio stays usable in
// development. Compositor is nil in queue mode; the render queue provides it.
func NewProviders(cfg *config.Config, logger *zap.Logger) *Providers {
	p := &Providers{Images: make(map[string]ImageGenerator)}

	if text := NewTextClient(&cfg.Text, logger); text.IsConfigured() {
		p.Text = text
	} else {
		logger.Info("Text provider not configured, using mock")
		p.Text = MockText{}
	}

	if img := NewOpenAIImageClient(&cfg.Image, logger); img.IsConfigured() {
		p.Images["openai"] = img
	}
	if img := NewImageServiceClient(&cfg.Image, logger); img.IsConfigured() {
		p.Images["http"] = img
	}
	p.Images["mock"] = MockImage{}
	p.DefaultImage = cfg.Image.Provider
	if _, ok := p.Images[p.DefaultImage]; !ok {
		if p.DefaultImage != "" {
			logger.Warn("Image provider not configured, using mock", zap.String("provider", p.DefaultImage))
		}
		p.DefaultImage = "mock"
	}

	if speech := NewSpeechClient(&cfg.Speech, logger); speech.IsConfigured() {
		p.Speech = speech
	} else {
		logger.Info("Speech provider not configured, using mock")
		p.Speech = MockSpeech{}
	}

	if tr := NewTranscriptionClient(&cfg.Transcription, logger); tr.IsConfigured() {
		p.Transcriber = tr
	} else if _, mock := p.Speech.(MockSpeech); mock {
		p.Transcriber = MockTranscriber{}
	}

	if video := NewVideoClient(&cfg.Video, logger); video.IsConfigured() {
		p.Video = video
	} else {
		logger.Info("Video provider not configured, using mock")
		p.Video = MockVideo{}
	}

	if cfg.Compositor.Mode != "queue" {
		if comp := NewCompositorClient(&cfg.Compositor, logger); comp.IsConfigured() {
			p.Compositor = comp
		} else {
			p.Compositor = MockCompositor{}
		}
	}

	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2, err := NewR2Client(&cfg.R2)
		if err != nil {
			logger.Warn("R2 client not initialized", zap.Error(err))
		} else {
			p.Media = r2
		}
	} else {
		logger.Info("R2 storage not configured, media stays in memory")
	}

	return p
}
