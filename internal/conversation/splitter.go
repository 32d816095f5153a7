package conversation

import "strings"

// minSentenceLen keeps abbreviations like "Dr." from triggering a cut.
const minSentenceLen = 5

// SentenceSplitter buffers streamed LLM text and emits complete
// sentences as soon as they terminate, so TTS can start speaking
// before the model finishes.
type SentenceSplitter struct {
	buf strings.Builder
}

// Push appends a chunk and returns any sentences completed by it.
func (s *SentenceSplitter) Push(chunk string) []string {
	var out []string
	for _, r := range chunk {
		s.buf.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s.buf.Len() >= minSentenceLen {
				sentence := strings.TrimSpace(s.buf.String())
				if sentence != "" {
					out = append(out, sentence)
				}
				s.buf.Reset()
			}
		}
	}
	return out
}

// Flush returns whatever is left in the buffer, terminated or not.
func (s *SentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}
