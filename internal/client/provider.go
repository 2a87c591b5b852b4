package client

import (
	"context"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/schemas"
)

// TextRequest is a prompt for the text provider. Context is serialized as JSON
// after the prompt. When Schema is set the provider must answer with JSON
// matching it. ImageURLs make the request vision-capable.
type TextRequest struct {
	System      string
	Prompt      string
	Context     interface{}
	Schema      *schemas.Schema
	ImageURLs   []string
	Temperature float32
}

// TextGenerator produces text or structured JSON
type TextGenerator interface {
	GenerateText(ctx context.Context, req *TextRequest) (string, error)
}

type ImageRequest struct {
	Prompt            string
	Style             string
	AspectRatio       string
	ReferenceImageURL string
}

type ImageResult struct {
	URL string
}

// ImageGenerator produces a still image
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error)
}

type VideoRequest struct {
	ImageURL    string
	Prompt      string
	AspectRatio string
}

type VideoResult struct {
	URL string
}

// VideoGenerator animates a still image
type VideoGenerator interface {
	GenerateVideoFromImage(ctx context.Context, req *VideoRequest) (*VideoResult, error)
}

type SpeechRequest struct {
	Text  string
	Voice string
}

// SpeechResult holds synthesized audio and its measured duration in seconds
type SpeechResult struct {
	Audio       []byte
	ContentType string
	Duration    float64
}

// SpeechSynthesizer turns text into audio
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *SpeechRequest) (*SpeechResult, error)
}

// TranscriptionRequest carries audio and, when known, the text it speaks.
// Prompt biases recognition toward that text.
type TranscriptionRequest struct {
	Audio    []byte
	Filename string
	Prompt   string
}

// TranscriptSegment is a timed piece of a transcription, in seconds
type TranscriptSegment struct {
	Start float64
	End   float64
	Text  string
}

// Transcriber aligns audio with text
type Transcriber interface {
	Transcribe(ctx context.Context, req *TranscriptionRequest) ([]TranscriptSegment, error)
}

// Compositor muxes a render plan into the final film
type Compositor interface {
	Render(ctx context.Context, plan *model.RenderPlan, attachments map[string][]byte, onProgress func(percent int, step string)) (*model.RenderResult, error)
}

// MediaStore keeps durable copies of generated media
type MediaStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Providers bundles every capability a session uses. Transcriber and Media
// may be nil.
type Providers struct {
	Text         TextGenerator
	Images       map[string]ImageGenerator
	DefaultImage string
	Video        VideoGenerator
	Speech       SpeechSynthesizer
	Transcriber  Transcriber
	Compositor   Compositor
	Media        MediaStore
}

// Image returns the image generator registered under name, falling back to
// the default provider.
func (p *Providers) Image(name string) ImageGenerator {
	if g, ok := p.Images[name]; ok && g != nil {
		return g
	}
	return p.Images[p.DefaultImage]
}

// TextFunc adapts a function to TextGenerator
type TextFunc func(ctx context.Context, req *TextRequest) (string, error)

func (f TextFunc) GenerateText(ctx context.Context, req *TextRequest) (string, error) {
	return f(ctx, req)
}

// ImageFunc adapts a function to ImageGenerator
type ImageFunc func(ctx context.Context, req *ImageRequest) (*ImageResult, error)

func (f ImageFunc) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	return f(ctx, req)
}

// VideoFunc adapts a function to VideoGenerator
type VideoFunc func(ctx context.Context, req *VideoRequest) (*VideoResult, error)

func (f VideoFunc) GenerateVideoFromImage(ctx context.Context, req *VideoRequest) (*VideoResult, error) {
	return f(ctx, req)
}

// SpeechFunc adapts a function to SpeechSynthesizer
type SpeechFunc func(ctx context.Context, req *SpeechRequest) (*SpeechResult, error)

func (f SpeechFunc) SynthesizeSpeech(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	return f(ctx, req)
}
