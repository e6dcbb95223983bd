package stream

import (
	"strings"
	"time"

	"recap-gateway/internal/models"
)

// Accumulator assembles frames into the final text and records time to first token.
type Accumulator struct {
	start     time.Time
	now       func() time.Time
	ttft      time.Duration
	frames    int
	content   strings.Builder
	reasoning strings.Builder
	usage     *models.Usage
	model     string
}

// NewAccumulator measures latency from start, normally the moment the request was sent.
func NewAccumulator(start time.Time) *Accumulator {
	return &Accumulator{start: start, now: time.Now}
}

// SetClock replaces the time source.
func (a *Accumulator) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Add appends one frame.
func (a *Accumulator) Add(f models.StreamFrame) {
	if a.frames == 0 && (f.Content != "" || f.Reasoning != "") {
		a.ttft = a.now().Sub(a.start)
	}
	if f.Content != "" || f.Reasoning != "" {
		a.frames++
	}

	a.content.WriteString(f.Content)
	a.reasoning.WriteString(f.Reasoning)

	if f.Usage != nil {
		u := *f.Usage
		a.usage = &u
	}
	if f.Model != "" {
		a.model = f.Model
	}
}

// TTFT is zero until a frame with text has been added.
func (a *Accumulator) TTFT() time.Duration { return a.ttft }

// Frames counts frames that carried text.
func (a *Accumulator) Frames() int { return a.frames }

func (a *Accumulator) Content() string { return a.content.String() }

func (a *Accumulator) Reasoning() string { return a.reasoning.String() }

// Usage is nil unless a frame reported counts.
func (a *Accumulator) Usage() *models.Usage { return a.usage }

func (a *Accumulator) Model() string { return a.model }
