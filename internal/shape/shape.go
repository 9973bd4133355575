// Package shape turns raw agent text into the display segments of the turn
// envelope. Everything here is a pure function over strings; no I/O.
//
// The pipeline is normalisation (control-byte strip, line-ending
// unification, blank-line collapse, trim), optional truncation to a total
// character budget, then segmentation by paragraph with sentence-aware
// splitting of oversized paragraphs.
package shape

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// Defaults for [Opts]. The segment size is tuned to the glasses display.
const (
	DefaultMaxSegmentChars = 500
	DefaultMaxSegments     = 20
	DefaultMaxTotalChars   = 5000
)

// Opts bounds the shaping output. Zero fields take the package defaults.
type Opts struct {
	// MaxSegmentChars is the per-segment character cap.
	MaxSegmentChars int

	// MaxSegments caps how many segments are emitted in total.
	MaxSegments int

	// MaxTotalChars caps the normalised text; anything beyond is dropped and
	// the result is flagged truncated.
	MaxTotalChars int
}

// withDefaults fills zero fields.
func (o Opts) withDefaults() Opts {
	if o.MaxSegmentChars <= 0 {
		o.MaxSegmentChars = DefaultMaxSegmentChars
	}
	if o.MaxSegments <= 0 {
		o.MaxSegments = DefaultMaxSegments
	}
	if o.MaxTotalChars <= 0 {
		o.MaxTotalChars = DefaultMaxTotalChars
	}
	return o
}

// Result is the shaped reply.
type Result struct {
	// FullText is the normalised (and possibly truncated) text the segments
	// were cut from.
	FullText string

	// Segments are the indexed display pieces.
	Segments []types.Segment

	// Truncated is true when the normalised text exceeded MaxTotalChars.
	Truncated bool
}

var (
	blankRuns     = regexp.MustCompile(`\n{3,}`)
	paragraphCuts = regexp.MustCompile(`\n{2,}`)
)

// Normalize cleans raw text: ASCII control bytes other than \n, \r and \t
// are removed, \r\n and bare \r become \n, runs of three or more newlines
// collapse to exactly two, and the result is trimmed. Normalize is
// idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Shape normalises raw and cuts it into indexed segments.
func Shape(raw string, opts Opts) Result {
	o := opts.withDefaults()

	text := Normalize(raw)
	runes := []rune(text)

	res := Result{}
	if len(runes) > o.MaxTotalChars {
		runes = runes[:o.MaxTotalChars]
		res.Truncated = true
	}
	res.FullText = string(runes)

	for _, para := range paragraphCuts.Split(res.FullText, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for i, chunk := range splitParagraph([]rune(para), o.MaxSegmentChars) {
			if len(res.Segments) >= o.MaxSegments {
				return res
			}
			res.Segments = append(res.Segments, types.Segment{
				Index:        len(res.Segments),
				Text:         chunk,
				Continuation: i > 0,
			})
		}
	}
	return res
}

// splitParagraph cuts one paragraph into chunks of at most limit runes,
// preferring a sentence boundary in the back half of the window, then the
// last whitespace past 30% of the window, then a hard cut.
func splitParagraph(para []rune, limit int) []string {
	if len(para) <= limit {
		return []string{string(para)}
	}

	var chunks []string
	rest := para
	for len(rest) > limit {
		cut := cutPoint(rest, limit)
		chunks = append(chunks, strings.TrimSpace(string(rest[:cut])))
		rest = rest[cut:]
		for len(rest) > 0 && unicode.IsSpace(rest[0]) {
			rest = rest[1:]
		}
	}
	if tail := strings.TrimSpace(string(rest)); tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

// cutPoint picks where to split a window of limit runes.
func cutPoint(rest []rune, limit int) int {
	// 1. Sentence boundary (. ! ? followed by space or end) in the back half.
	for i := limit - 1; i >= limit/2; i-- {
		if !sentenceEnd(rest[i]) {
			continue
		}
		if i+1 == len(rest) || unicode.IsSpace(rest[i+1]) {
			return i + 1
		}
	}

	// 2. Last whitespace at or after 30% of the window.
	floor := (limit * 3) / 10
	for i := limit - 1; i >= floor; i-- {
		if unicode.IsSpace(rest[i]) {
			return i
		}
	}

	// 3. Hard cut.
	return limit
}

// sentenceEnd reports whether r terminates a sentence.
func sentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
