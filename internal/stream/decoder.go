// Package stream decodes chat-completions event streams incrementally.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"recap-gateway/internal/models"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// Decoder is a line-buffered event-stream decoder. Bytes are fed with Write in
// whatever chunks the network delivers; a frame is parsed only once its whole line
// has arrived. Malformed frames are counted and skipped.
type Decoder struct {
	buf     []byte
	emit    func(models.StreamFrame)
	skipped int
	done    bool
}

// NewDecoder returns a decoder that calls emit for every frame carrying text or usage.
func NewDecoder(emit func(models.StreamFrame)) *Decoder {
	return &Decoder{emit: emit}
}

// Write consumes p. It never fails; the error return satisfies io.Writer.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)

	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		d.processLine(d.buf[:i])
		d.buf = d.buf[i+1:]
	}

	// Reclaim the consumed prefix once nothing is pending.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(p), nil
}

// Flush processes a final line that arrived without a trailing newline.
func (d *Decoder) Flush() {
	if len(d.buf) > 0 {
		d.processLine(d.buf)
		d.buf = nil
	}
}

// Skipped reports how many data lines failed to parse.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Done reports whether the terminator frame was seen.
func (d *Decoder) Done() bool {
	return d.done
}

func (d *Decoder) processLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return
	}

	data := bytes.TrimSpace(line[len(dataPrefix):])
	if string(data) == doneMarker {
		d.done = true
		return
	}

	var c chunk
	if err := json.Unmarshal(data, &c); err != nil {
		d.skipped++
		return
	}

	frame, ok := c.frame()
	if ok && d.emit != nil {
		d.emit(frame)
	}
}

type chunk struct {
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
	Usage   *chunkUsage   `json:"usage"`
}

type chunkChoice struct {
	Delta chunkDelta `json:"delta"`
}

type chunkDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

type chunkUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (c chunk) frame() (models.StreamFrame, bool) {
	frame := models.StreamFrame{Model: c.Model}

	if len(c.Choices) > 0 {
		delta := c.Choices[0].Delta
		frame.Content = delta.Content
		frame.Reasoning = delta.ReasoningContent
		if frame.Reasoning == "" {
			frame.Reasoning = delta.Reasoning
		}
	}

	if c.Usage != nil && c.Usage.CompletionTokens > 0 {
		total := c.Usage.TotalTokens
		if total <= 0 {
			total = c.Usage.PromptTokens + c.Usage.CompletionTokens
		}
		frame.Usage = &models.Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      total,
		}
	}

	return frame, frame.Content != "" || frame.Reasoning != "" || frame.Usage != nil
}

// WriteError reports that the downstream consumer rejected bytes, as opposed to the
// upstream read failing.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return "relay write: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Copy feeds src to d and then forwards the same bytes to dst, chunk by chunk.
// dst may be nil when the stream is only interpreted. Upstream read errors are
// returned as-is; failures writing to dst are wrapped in *WriteError.
func Copy(dst io.Writer, src io.Reader, d *Decoder) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			_, _ = d.Write(chunk)
			if dst != nil {
				if _, err := dst.Write(chunk); err != nil {
					return written, &WriteError{Err: err}
				}
			}
			written += int64(n)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				d.Flush()
				return written, nil
			}
			return written, readErr
		}
	}
}
