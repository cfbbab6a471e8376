package channels

import "unicode/utf8"

// DefaultTextChunkLimit is the per-post size cap used when a channel
// does not configure its own.
const DefaultTextChunkLimit = 4000

// ChunkText splits text into pieces of at most limit bytes.
//
// mode "newline" prefers to cut at the last newline inside the window
// (falling back to a hard cut when the window has no usable newline);
// any other mode cuts at exactly limit. Chunks are returned in order
// and never empty.
func ChunkText(text string, limit int, mode string) []string {
	if limit <= 0 {
		limit = DefaultTextChunkLimit
	}
	if text == "" {
		return nil
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}

		cutAt := limit
		if mode == "newline" {
			if idx := lastNewline(text[:limit]); idx > limit/2 {
				cutAt = idx + 1
			}
		}
		// Back off to a rune boundary so a multibyte rune is never
		// split across chunks.
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		if cutAt == 0 {
			cutAt = limit
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
