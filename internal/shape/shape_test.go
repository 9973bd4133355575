package shape

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello there.", "Hello there."},
		{"control bytes stripped", "He\x00llo\x07 wor\x1bld", "Hello world"},
		{"delete byte stripped", "abc\x7fdef", "abcdef"},
		{"tabs kept", "col1\tcol2", "col1\tcol2"},
		{"crlf becomes lf", "line1\r\nline2", "line1\nline2"},
		{"bare cr becomes lf", "line1\rline2", "line1\nline2"},
		{"blank runs collapse to one blank line", "a\n\n\n\n\nb", "a\n\nb"},
		{"surrounding whitespace trimmed", "  \n hello \n\n", "hello"},
		{"unicode preserved", "héllo wörld 你好", "héllo wörld 你好"},
		{"empty stays empty", "", ""},
		{"whitespace only collapses to empty", " \n\r\n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Hello there.",
		"a\r\n\r\n\r\nb\x00c",
		"  padded \n\n\n text ",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestShape_ShortTextSingleSegment(t *testing.T) {
	res := Shape("Just a short reply.", Opts{})

	if res.Truncated {
		t.Error("short text flagged truncated")
	}
	if res.FullText != "Just a short reply." {
		t.Errorf("FullText = %q", res.FullText)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(res.Segments))
	}
	seg := res.Segments[0]
	if seg.Index != 0 || seg.Text != "Just a short reply." || seg.Continuation {
		t.Errorf("segment = %+v", seg)
	}
}

func TestShape_EmptyInput(t *testing.T) {
	res := Shape("   \n\n  ", Opts{})
	if res.FullText != "" || len(res.Segments) != 0 || res.Truncated {
		t.Errorf("Shape(blank) = %+v, want empty result", res)
	}
}

func TestShape_ParagraphsBecomeSegments(t *testing.T) {
	res := Shape("First paragraph.\n\nSecond paragraph.\n\nThird.", Opts{})

	if len(res.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(res.Segments))
	}
	wantTexts := []string{"First paragraph.", "Second paragraph.", "Third."}
	for i, seg := range res.Segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
		if seg.Text != wantTexts[i] {
			t.Errorf("segment %d text = %q, want %q", i, seg.Text, wantTexts[i])
		}
		if seg.Continuation {
			t.Errorf("segment %d marked continuation; paragraphs start fresh", i)
		}
	}
}

func TestShape_OversizedParagraphSplitsAtSentence(t *testing.T) {
	para := "This is sentence one. This is sentence two. This is sentence three."
	res := Shape(para, Opts{MaxSegmentChars: 50})

	if len(res.Segments) < 2 {
		t.Fatalf("segments = %d, want at least 2", len(res.Segments))
	}
	if got := res.Segments[0].Text; !strings.HasSuffix(got, ".") {
		t.Errorf("first chunk %q does not end at a sentence boundary", got)
	}
	if !res.Segments[1].Continuation {
		t.Error("second chunk of a split paragraph must be a continuation")
	}
	for _, seg := range res.Segments {
		if n := len([]rune(seg.Text)); n > 50 {
			t.Errorf("segment %d has %d runes, cap is 50", seg.Index, n)
		}
	}
}

func TestShape_WordBoundaryFallback(t *testing.T) {
	// No sentence punctuation: the cut falls back to whitespace.
	words := strings.Repeat("alpha beta gamma delta ", 10)
	res := Shape(words, Opts{MaxSegmentChars: 40})

	whole := map[string]bool{"alpha": true, "beta": true, "gamma": true, "delta": true}
	for _, seg := range res.Segments {
		for _, w := range strings.Fields(seg.Text) {
			if !whole[w] {
				t.Errorf("segment %q cut mid-word at %q", seg.Text, w)
			}
		}
		if n := len([]rune(seg.Text)); n > 40 {
			t.Errorf("segment %q has %d runes, cap is 40", seg.Text, n)
		}
	}
}

func TestShape_HardCutWithoutWhitespace(t *testing.T) {
	res := Shape(strings.Repeat("x", 95), Opts{MaxSegmentChars: 40})

	if len(res.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(res.Segments))
	}
	if got := res.Segments[0].Text; got != strings.Repeat("x", 40) {
		t.Errorf("first segment = %q, want 40 x's", got)
	}
}

func TestShape_TotalBudgetTruncates(t *testing.T) {
	res := Shape(strings.Repeat("a", 120), Opts{MaxTotalChars: 100})

	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
	if n := len([]rune(res.FullText)); n != 100 {
		t.Errorf("FullText runes = %d, want 100", n)
	}
}

func TestShape_SegmentCountCap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString("Paragraph.\n\n")
	}
	res := Shape(sb.String(), Opts{MaxSegments: 4})

	if len(res.Segments) != 4 {
		t.Fatalf("segments = %d, want 4", len(res.Segments))
	}
	for i, seg := range res.Segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d, indices must be dense", i, seg.Index)
		}
	}
}

func TestShape_MultibyteRuneBudget(t *testing.T) {
	// Budgets count runes, not bytes. 60 three-byte runes with a 25-rune cap.
	res := Shape(strings.Repeat("猫", 60), Opts{MaxSegmentChars: 25})

	for _, seg := range res.Segments {
		if n := len([]rune(seg.Text)); n > 25 {
			t.Errorf("segment %d has %d runes, cap is 25", seg.Index, n)
		}
	}
	total := 0
	for _, seg := range res.Segments {
		total += len([]rune(seg.Text))
	}
	if total != 60 {
		t.Errorf("reassembled rune count = %d, want 60", total)
	}
}
