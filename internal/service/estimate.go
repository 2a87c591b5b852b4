package service

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

// TokenCounter counts the tokens a text costs
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with a tiktoken encoding, loaded on first use.
// Until it loads, or when it cannot, it assumes four characters per token.
type TiktokenCounter struct {
	Encoding string
	logger   *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{Encoding: encoding, logger: logger.Named("tokens")}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.Encoding)
		if err != nil {
			c.logger.Warn("Token encoding unavailable, estimating", zap.String("encoding", c.Encoding), zap.Error(err))
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CostEstimator prices the generation still ahead when a project locks
type CostEstimator struct {
	pricing config.PricingConfig
	tokens  TokenCounter
}

func NewCostEstimator(pricing config.PricingConfig, tokens TokenCounter) *CostEstimator {
	return &CostEstimator{pricing: pricing, tokens: tokens}
}

// textPasses is how many times the script is sent to the text provider
// after the lock: cast, shot planning and consistency checks.
const textPasses = 3

func (e *CostEstimator) EstimateCost(s *model.ProjectState) model.CostEstimate {
	est := model.CostEstimate{
		SceneCount: len(s.Breakdown),
		Currency:   e.pricing.Currency,
	}

	var script strings.Builder
	for i := range s.Breakdown {
		sc := s.ScriptScene(i)
		script.WriteString(sc.Heading)
		script.WriteString("\n")
		script.WriteString(sc.Action)
		script.WriteString("\n")
		for _, l := range sc.Dialogue {
			script.WriteString(l.Speaker)
			script.WriteString(": ")
			script.WriteString(l.Line)
			script.WriteString("\n")
		}
		est.NarrationChars += len(NarrationScript(sc))
	}
	est.ScriptTokens = e.tokens.Count(script.String())

	perScene := e.pricing.ShotsPerScene
	if perScene < 1 {
		perScene = 1
	}
	est.EstimatedShots = est.SceneCount * perScene
	portraits := len(castNames(s))

	est.TextCost = cents(float64(est.ScriptTokens*textPasses) / 1e6 * e.pricing.TextPerMillionTokens)
	est.ImageCost = cents(float64(est.EstimatedShots+portraits) * e.pricing.ImagePerUnit)
	est.SpeechCost = cents(float64(est.NarrationChars) / 1e6 * e.pricing.SpeechPerMillionChar)
	est.VideoCost = cents(float64(est.EstimatedShots) * e.pricing.VideoPerClip)
	est.Total = cents(est.TextCost + est.ImageCost + est.SpeechCost + est.VideoCost)
	return est
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}
