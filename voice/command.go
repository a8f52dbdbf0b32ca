// Package voice interprets speech transcripts as presentation commands.
package voice

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Kind identifies a parsed voice command.
type Kind int

const (
	KindNone Kind = iota
	KindStopDictation
	KindDictate
	KindAppendText
	KindGotoPage
	KindLastPage
	KindNext
	KindPrevious
	KindClear
	KindPointer
	KindGesture
)

func (k Kind) String() string {
	switch k {
	case KindStopDictation:
		return "stop-dictation"
	case KindDictate:
		return "dictate"
	case KindAppendText:
		return "append-text"
	case KindGotoPage:
		return "goto-page"
	case KindLastPage:
		return "last-page"
	case KindNext:
		return "next"
	case KindPrevious:
		return "previous"
	case KindClear:
		return "clear"
	case KindPointer:
		return "pointer"
	case KindGesture:
		return "gesture"
	default:
		return "none"
	}
}

// Command is the result of parsing one final transcript.
type Command struct {
	Kind Kind
	Text string // dictated text for KindDictate and KindAppendText
	Page int    // target page for KindGotoPage
}

var (
	pagePattern   = regexp.MustCompile(`page (\d+)`)
	dictatePrefix = []string{"draw ", "write "}
	stopWords     = []string{"stop", "done", "enough"}
	lastPageWords = []string{"last page", "go to last", "end"}
	previousWords = []string{"previous", "back"}
	clearWords    = []string{"clear", "erase"}
	gestureWords  = []string{"gesture", "hand"}
)

// Normalize trims and case-folds a transcript for matching.
func Normalize(phrase string) string {
	// A Caser keeps state, so each call gets its own.
	return strings.TrimSpace(cases.Fold().String(phrase))
}

// Parse maps a final transcript to a command. dictating reports whether a
// dictation session is active and pageCount is the loaded document's page
// count (0 when none is loaded). Rules are tried in priority order.
func Parse(phrase string, dictating bool, pageCount int) Command {
	cmd := Normalize(phrase)
	if cmd == "" {
		return Command{}
	}

	if dictating && containsAny(cmd, stopWords) {
		return Command{Kind: KindStopDictation}
	}

	for _, prefix := range dictatePrefix {
		if rest, ok := strings.CutPrefix(cmd, prefix); ok {
			if text := strings.TrimSpace(rest); text != "" {
				return Command{Kind: KindDictate, Text: text}
			}
		}
	}

	if m := pagePattern.FindStringSubmatch(cmd); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > pageCount {
			// Out-of-range page numbers are ignored.
			return Command{}
		}
		return Command{Kind: KindGotoPage, Page: n}
	}

	if pageCount > 0 && containsAny(cmd, lastPageWords) {
		return Command{Kind: KindLastPage}
	}

	switch {
	case strings.Contains(cmd, "next"):
		return Command{Kind: KindNext}
	case containsAny(cmd, previousWords):
		return Command{Kind: KindPrevious}
	case containsAny(cmd, clearWords):
		return Command{Kind: KindClear}
	case strings.Contains(cmd, "mouse"):
		return Command{Kind: KindPointer}
	case containsAny(cmd, gestureWords):
		return Command{Kind: KindGesture}
	}

	if dictating {
		return Command{Kind: KindAppendText, Text: cmd}
	}
	return Command{}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
