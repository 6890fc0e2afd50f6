package app

import (
	"io"
	"log/slog"
	"testing"

	"talk-archive/pkg/config"
)

const continuationStream = "<br><br>Alice, Acme (00:00:10):<br>hello<br><br>(00:00:25):<br>more<br><br>Bob (00:00:40):<br>bye"

func TestNewSegmenterHonorsMergeContinuations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name  string
		merge bool
		want  int
	}{
		{name: "split by default", merge: false, want: 3},
		{name: "merged when configured", merge: true, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSegmenter(config.ClipsConfig{Workers: 1, MergeContinuations: tt.merge}, logger)
			got := s.Segment(continuationStream)
			if len(got) != tt.want {
				t.Fatalf("got %d segments, want %d: %+v", len(got), tt.want, got)
			}
			if got[0].Metadata.Speaker != "Alice" || got[0].Metadata.StartTimestamp != 10 {
				t.Errorf("first segment = %+v", got[0].Metadata)
			}
		})
	}
}
