// Package tokens estimates output token counts when a vendor reports none.
package tokens

import (
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"recap-gateway/internal/models"
)

// charsPerToken approximates CJK-heavy output, roughly two characters per token.
const charsPerToken = 2

// Estimator counts tokens in generated text.
type Estimator interface {
	Name() string
	Count(text string) int
}

// CharEstimator divides the character count by a fixed ratio.
type CharEstimator struct{}

func (CharEstimator) Name() string { return "chars" }

func (CharEstimator) Count(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / charsPerToken))
}

// CL100KEstimator counts with the cl100k_base vocabulary. It is an estimate too: the
// vendors behind the gateway use their own tokenizers.
type CL100KEstimator struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

func (*CL100KEstimator) Name() string { return "cl100k" }

func (e *CL100KEstimator) Count(text string) int {
	e.once.Do(func() {
		e.codec, e.err = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if e.err != nil {
		return CharEstimator{}.Count(text)
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return CharEstimator{}.Count(text)
	}
	return len(ids)
}

// New returns the estimator registered under name.
func New(name string) (Estimator, error) {
	switch name {
	case "", "chars":
		return CharEstimator{}, nil
	case "cl100k":
		return &CL100KEstimator{}, nil
	default:
		return nil, fmt.Errorf("unknown token estimator %q", name)
	}
}

// Resolve returns vendor-reported usage when present, otherwise an estimate over
// answer and reasoning text flagged as such.
func Resolve(reported *models.Usage, answer, reasoning string, est Estimator) models.Usage {
	if reported != nil && reported.CompletionTokens > 0 {
		return *reported
	}
	if est == nil {
		est = CharEstimator{}
	}

	usage := models.Usage{Estimated: true}
	if reported != nil {
		usage.PromptTokens = reported.PromptTokens
	}
	usage.CompletionTokens = est.Count(answer + reasoning)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

// Metrics derives throughput from output tokens and elapsed time. Tokens per second is
// rounded to two decimals.
func Metrics(ttft, elapsed time.Duration, outputTokens int) models.Metrics {
	m := models.Metrics{TTFT: ttft, Elapsed: elapsed}
	if outputTokens > 0 && elapsed > 0 {
		tps := float64(outputTokens) / elapsed.Seconds()
		m.TokensPerSecond = math.Round(tps*100) / 100
	}
	return m
}
