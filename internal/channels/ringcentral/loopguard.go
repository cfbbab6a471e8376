package ringcentral

import (
	"regexp"
	"strings"
)

// LoopMarker identifies a structurally detectable bot/system artefact
// that must never re-enter the inbound pipeline. Detection is purely
// structural and independent of the bot's display name.
type LoopMarker string

const (
	MarkerNone          LoopMarker = ""
	MarkerThinking      LoopMarker = "thinking"
	MarkerAnswerWrapper LoopMarker = "answer-wrapper"
	MarkerQueuedBusy    LoopMarker = "queued-busy"
	MarkerQueuedNumber  LoopMarker = "queued-number"
)

var (
	// "> 🦞 Something is thinking...", any name, any decoration.
	thinkingRe = regexp.MustCompile(`^>\s*.+\s+is\s+thinking\.\.\.\s*$`)
	// Localized thinking indicator, with ASCII or ellipsis dots.
	thinkingZhRe = regexp.MustCompile(`^>\s*.+\s+正在思考[.…]*\s*$`)
	// "> --------answer--------" / "> ---------end----------"
	answerWrapRe = regexp.MustCompile(`(?i)^>\s*-{3,}\s*answer\s*-{3,}\s*$`)
	endWrapRe    = regexp.MustCompile(`(?i)^>\s*-{3,}\s*end\s*-{3,}\s*$`)
	// "Queued #3"
	queuedNumRe = regexp.MustCompile(`(?i)^queued\s+#\d+$`)
	// "<media:attachment>" placeholder, optionally quoted, optionally
	// missing the angle brackets.
	attachmentPlaceholderRe = regexp.MustCompile(`(?i)^(?:>\s*)?<?media:attachment>?\s*$`)
)

const queuedBusyPhrase = "queued messages while agent was busy"

// DetectLoopMarker classifies text as a loop-guard marker, or
// MarkerNone when the text is ordinary user content.
func DetectLoopMarker(text string) LoopMarker {
	t := strings.TrimSpace(text)
	if t == "" {
		return MarkerNone
	}
	if thinkingRe.MatchString(t) || thinkingZhRe.MatchString(t) {
		return MarkerThinking
	}
	if answerWrapRe.MatchString(t) || endWrapRe.MatchString(t) {
		return MarkerAnswerWrapper
	}
	if strings.Contains(strings.ToLower(t), queuedBusyPhrase) {
		return MarkerQueuedBusy
	}
	if queuedNumRe.MatchString(t) {
		return MarkerQueuedNumber
	}
	return MarkerNone
}

// IsAttachmentPlaceholder reports whether text is nothing but the
// synthetic "<media:attachment>" body a bridge substitutes for
// text-less attachment posts.
func IsAttachmentPlaceholder(text string) bool {
	return attachmentPlaceholderRe.MatchString(strings.TrimSpace(text))
}
