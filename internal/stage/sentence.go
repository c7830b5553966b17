package stage

import "strings"

// sentenceBuffer accumulates streamed text and cuts it into sentences so
// synthesis can start before the model finishes its reply.
type sentenceBuffer struct {
	buf strings.Builder
}

// add appends text and returns every sentence it completed.
func (b *sentenceBuffer) add(text string) []string {
	b.buf.WriteString(text)
	s := b.buf.String()

	var out []string
	for {
		idx := sentenceBoundary(s)
		if idx < 0 {
			break
		}
		if sentence := strings.TrimSpace(s[:idx+1]); sentence != "" {
			out = append(out, sentence)
		}
		s = s[idx+1:]
	}
	b.buf.Reset()
	b.buf.WriteString(s)
	return out
}

// flush returns whatever text is left and empties the buffer.
func (b *sentenceBuffer) flush() string {
	s := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	return s
}

func (b *sentenceBuffer) reset() { b.buf.Reset() }

// sentenceBoundary returns the index of the first sentence-ending punctuation
// mark followed by whitespace, or -1 if there is none yet.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
