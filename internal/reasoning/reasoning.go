// Package reasoning separates a model's exposed thinking from its final answer.
package reasoning

import (
	"regexp"
	"strings"

	"recap-gateway/internal/models"
)

var thinkBlock = regexp.MustCompile(`(?is)<think>(.*?)</think>`)

// Result is the split answer.
type Result struct {
	Answer    string
	Reasoning string
	Format    models.ReasoningFormat
}

// Extract classifies how reasoning was delivered. A separate reasoning channel wins;
// otherwise closed <think> blocks are moved out of the answer. The enclosed text is
// kept exactly, and several blocks are joined with a newline. An unclosed tag is left
// in the answer.
func Extract(answer, separate string) Result {
	if separate != "" {
		return Result{Answer: answer, Reasoning: separate, Format: models.ReasoningSeparateField}
	}

	matches := thinkBlock.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return Result{Answer: answer, Format: models.ReasoningNone}
	}

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, m[1])
	}

	return Result{
		Answer:    strings.TrimSpace(thinkBlock.ReplaceAllString(answer, "")),
		Reasoning: strings.Join(blocks, "\n"),
		Format:    models.ReasoningInlineTag,
	}
}
