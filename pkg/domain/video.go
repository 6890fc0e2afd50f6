package domain

// VideoMetadata is the page-level metadata of a recorded talk.
type VideoMetadata struct {
	Title     string `json:"title" bson:"title"`
	Date      string `json:"date" bson:"date"`
	YoutubeID string `json:"youtube_id" bson:"youtube_id"`
	Source    string `json:"source,omitempty" bson:"source,omitempty"`
}

// SegmentMetadata carries the timing and attribution of one transcript segment.
// Timestamps are whole seconds from the start of the video.
type SegmentMetadata struct {
	Speaker        string   `json:"speaker" bson:"speaker"`
	Company        string   `json:"company" bson:"company"`
	StartTimestamp int      `json:"start_timestamp" bson:"start_timestamp"`
	EndTimestamp   int      `json:"end_timestamp" bson:"end_timestamp"`
	Subjects       []string `json:"subjects" bson:"subjects"`
	Download       string   `json:"download,omitempty" bson:"download,omitempty"`
	SegmentHash    string   `json:"segment_hash,omitempty" bson:"segment_hash,omitempty"`
}

// TranscriptSegment is one speaker-attributed, timed slice of a transcript.
type TranscriptSegment struct {
	Metadata SegmentMetadata `json:"metadata" bson:"metadata"`
	Text     string          `json:"text" bson:"text"`
}

// Duration returns end minus start in seconds.
func (s TranscriptSegment) Duration() int {
	return s.Metadata.EndTimestamp - s.Metadata.StartTimestamp
}

// VideoInfo is the unit produced by extraction and consumed by every later stage.
// It is persisted to the cache as indented JSON.
type VideoInfo struct {
	Metadata   VideoMetadata       `json:"metadata" bson:"metadata"`
	Transcript []TranscriptSegment `json:"transcript" bson:"transcript"`
}

// ApplyMetadata overlays an edit override onto the extracted metadata.
func (v *VideoInfo) ApplyMetadata(edit EditedMetadata) {
	v.Metadata = VideoMetadata{
		Title:     edit.Title,
		Date:      edit.Date,
		YoutubeID: edit.YoutubeID,
		Source:    edit.Source,
	}
}

// ReplaceTranscript swaps the transcript for an edited one. Segments are expected
// to be ordered by start time.
func (v *VideoInfo) ReplaceTranscript(edits []EditedSegment) {
	segs := make([]TranscriptSegment, 0, len(edits))
	for _, e := range edits {
		segs = append(segs, TranscriptSegment{
			Metadata: SegmentMetadata{
				Speaker:        e.Speaker,
				Company:        e.Company,
				StartTimestamp: e.StartTime,
				EndTimestamp:   e.EndTime,
				Subjects:       e.Subjects,
				SegmentHash:    e.SegmentHash,
			},
			Text: e.Text,
		})
	}
	v.Transcript = segs
}
