package reasoning

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// Splitter separates inline <think> blocks from answer text that arrives in deltas.
// A tag may be split across deltas; a possible partial tag is held back until the
// next delta decides it.
type Splitter struct {
	pending  string
	thinking bool
}

// Feed consumes one content delta and returns the answer and reasoning text it
// completes.
func (s *Splitter) Feed(delta string) (answer, reasoning string) {
	buf := s.pending + delta
	s.pending = ""

	var a, r strings.Builder
	for buf != "" {
		tag := openTag
		if s.thinking {
			tag = closeTag
		}

		if i := indexFold(buf, tag); i >= 0 {
			s.write(&a, &r, buf[:i])
			buf = buf[i+len(tag):]
			s.thinking = !s.thinking
			continue
		}

		keep := partialTagSuffix(buf, tag)
		s.write(&a, &r, buf[:len(buf)-keep])
		s.pending = buf[len(buf)-keep:]
		break
	}
	return a.String(), r.String()
}

// Flush returns text still held back once the stream has ended.
func (s *Splitter) Flush() (answer, reasoning string) {
	var a, r strings.Builder
	s.write(&a, &r, s.pending)
	s.pending = ""
	return a.String(), r.String()
}

func (s *Splitter) write(answer, reasoning *strings.Builder, text string) {
	if s.thinking {
		reasoning.WriteString(text)
		return
	}
	answer.WriteString(text)
}

func indexFold(s, tag string) int {
	for i := 0; i+len(tag) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(tag)], tag) {
			return i
		}
	}
	return -1
}

// partialTagSuffix returns the length of the longest suffix of s that is a proper
// prefix of tag.
func partialTagSuffix(s, tag string) int {
	n := len(tag) - 1
	if len(s) < n {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.EqualFold(s[len(s)-n:], tag[:n]) {
			return n
		}
	}
	return 0
}
