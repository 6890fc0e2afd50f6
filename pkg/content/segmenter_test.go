package content

import (
	"reflect"
	"testing"

	"talk-archive/pkg/domain"
)

const exampleStream = "<br><br>Alice, Acme (00:00:10):<br>hello<br><br>(00:00:25):<br>more<br><br>Bob (00:00:40):<br>bye"

type segWant struct {
	speaker, company string
	start, end       int
	text             string
}

func checkSegments(t *testing.T, got []domain.TranscriptSegment, want []segWant) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Metadata.Speaker != w.speaker || g.Metadata.Company != w.company ||
			g.Metadata.StartTimestamp != w.start || g.Metadata.EndTimestamp != w.end || g.Text != w.text {
			t.Errorf("segment %d = {%s %s %d-%d %q}, want {%s %s %d-%d %q}", i,
				g.Metadata.Speaker, g.Metadata.Company, g.Metadata.StartTimestamp, g.Metadata.EndTimestamp, g.Text,
				w.speaker, w.company, w.start, w.end, w.text)
		}
	}
}

func TestSegmentContinuationSplitsByDefault(t *testing.T) {
	s := &Segmenter{}
	checkSegments(t, s.Segment(exampleStream), []segWant{
		{"Alice", "Acme", 10, 25, "hello"},
		{"Alice", "Acme", 25, 40, "more"},
		{"Bob", UnknownCompany, 40, 0, "bye"},
	})
}

func TestSegmentMergeContinuations(t *testing.T) {
	s := &Segmenter{MergeContinuations: true}
	checkSegments(t, s.Segment(exampleStream), []segWant{
		{"Alice", "Acme", 10, 40, "hello more"},
		{"Bob", UnknownCompany, 40, 0, "bye"},
	})
}

func TestSegmentEdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   []segWant
	}{
		{
			name:   "leading bare marker has nothing to close",
			stream: "<br><br>(00:00:05):<br>intro<br><br>Alice (00:00:10):<br>hi",
			want:   []segWant{{"Alice", UnknownCompany, 10, 0, "hi"}},
		},
		{
			name:   "marker without trailing text",
			stream: "<br><br>Alice (00:00:10):<br><br><br>Bob (00:00:30):<br>yo",
			want: []segWant{
				{"Alice", UnknownCompany, 10, 30, ""},
				{"Bob", UnknownCompany, 30, 0, "yo"},
			},
		},
		{
			name:   "trailing marker flushes empty text",
			stream: "<br><br>Alice (00:00:10):<br>hi<br><br>Bob (00:00:30):<br>",
			want: []segWant{
				{"Alice", UnknownCompany, 10, 30, "hi"},
				{"Bob", UnknownCompany, 30, 0, ""},
			},
		},
		{
			name:   "mixed timestamp formats",
			stream: "<br><br>Alice, Acme Corp (01:05):<br>x<br><br>Bob, Beta (01:00:00):<br>y",
			want: []segWant{
				{"Alice", "Acme Corp", 65, 3600, "x"},
				{"Bob", "Beta", 3600, 0, "y"},
			},
		},
		{
			name:   "no markers",
			stream: "just some text",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkSegments(t, (&Segmenter{}).Segment(tt.stream), tt.want)
		})
	}
}

func TestSegmentOrderIsNonOverlapping(t *testing.T) {
	stream := "<br><br>A (00:00:00):<br>a<br><br>(00:00:20):<br>b<br><br>B (00:00:45):<br>c<br><br>(00:01:30):<br>d<br><br>C (00:02:00):<br>e"
	segs := (&Segmenter{}).Segment(stream)
	for i := 1; i < len(segs); i++ {
		prev, cur := segs[i-1].Metadata, segs[i].Metadata
		if prev.EndTimestamp != cur.StartTimestamp {
			t.Errorf("segment %d starts at %d, previous ended at %d", i, cur.StartTimestamp, prev.EndTimestamp)
		}
		if cur.StartTimestamp < prev.StartTimestamp {
			t.Errorf("segment %d out of order", i)
		}
	}
}

type fixedClassifier []string

func (f fixedClassifier) Classify(string) []string { return f }

func TestSegmentUsesClassifier(t *testing.T) {
	segs := (&Segmenter{Classifier: fixedClassifier{"api"}}).Segment(exampleStream)
	for _, s := range segs {
		if !reflect.DeepEqual(s.Metadata.Subjects, []string{"api"}) {
			t.Errorf("subjects = %v", s.Metadata.Subjects)
		}
	}

	segs = (&Segmenter{}).Segment(exampleStream)
	if segs[0].Metadata.Subjects == nil {
		t.Error("subjects should be an empty list, not nil")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:10", 10, false},
		{"01:05", 65, false},
		{"00:00:25", 25, false},
		{"01:02:03", 3723, false},
		{"10", 0, true},
		{"aa:bb", 0, true},
		{"1:2:3:4", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseTimestamp(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestSegmentHashIsDeterministic(t *testing.T) {
	seg := domain.TranscriptSegment{
		Metadata: domain.SegmentMetadata{StartTimestamp: 10, EndTimestamp: 40},
		Text:     "hello",
	}
	meta := domain.VideoMetadata{Title: "Open RAN", Date: "Mar 5, 2024"}

	first := SegmentHash(seg, meta)
	if first != "f995850639e56f30bee2bd77c105d092" {
		t.Errorf("hash = %s", first)
	}
	if again := SegmentHash(seg, meta); again != first {
		t.Errorf("hash changed between calls: %s vs %s", first, again)
	}

	seg.Metadata.Speaker = "someone else"
	if SegmentHash(seg, meta) != first {
		t.Error("speaker must not affect the hash")
	}

	meta.Date = "Mar 6, 2024"
	if SegmentHash(seg, meta) == first {
		t.Error("date must affect the hash")
	}
}

func TestFilterByDurationBoundary(t *testing.T) {
	mk := func(start, end int) domain.TranscriptSegment {
		return domain.TranscriptSegment{Metadata: domain.SegmentMetadata{StartTimestamp: start, EndTimestamp: end}}
	}
	segs := []domain.TranscriptSegment{mk(0, 9), mk(0, 10), mk(0, 11), mk(40, 0)}

	kept, dropped := FilterByDuration(segs, MinDuration)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(kept) != 2 || kept[0].Duration() != 10 || kept[1].Duration() != 11 {
		t.Errorf("kept = %+v", kept)
	}
}

func TestReconcileTrailing(t *testing.T) {
	base := func() []domain.TranscriptSegment {
		return (&Segmenter{}).Segment(exampleStream)
	}

	segs := ReconcileTrailing(base(), 95)
	if end := segs[len(segs)-1].Metadata.EndTimestamp; end != 95 {
		t.Errorf("trailing end = %d, want 95", end)
	}

	segs = ReconcileTrailing(base(), 30)
	if end := segs[len(segs)-1].Metadata.EndTimestamp; end != 0 {
		t.Errorf("duration before start should leave sentinel, got %d", end)
	}

	segs = ReconcileTrailing(base(), 0)
	if end := segs[len(segs)-1].Metadata.EndTimestamp; end != 0 {
		t.Errorf("unknown duration should leave sentinel, got %d", end)
	}

	if got := ReconcileTrailing(nil, 100); got != nil {
		t.Errorf("nil input should stay nil")
	}
}
