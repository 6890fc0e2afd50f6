package content

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"talk-archive/pkg/domain"
)

// MinDuration is the shortest segment, in seconds, that is kept for persistence.
const MinDuration = 10

// UnknownCompany is used when a speaker marker names no company.
const UnknownCompany = "Unknown"

var (
	// markerSplit finds speaker markers in a flattened transcript stream.
	markerSplit = regexp.MustCompile(`<br><br>.*?\((?:\d{2}:)?\d{2}:\d{2}\):<br>`)

	// markerParse reads speaker, company and timestamp from a single marker.
	markerParse = regexp.MustCompile(`^<br><br>(?:([^,(]+?)(?:,\s*([^(]+?))?)?\s*\((\d{2}:\d{2}:\d{2}|\d{2}:\d{2})\):<br>`)
)

// Classifier assigns subject tags to segment text.
type Classifier interface {
	Classify(text string) []string
}

// Segmenter turns a flattened transcript stream into timed, speaker-attributed segments.
//
// A marker naming a speaker closes the pending marker and becomes the new pending one.
// A bare timestamp marker also closes the pending marker but keeps its speaker and
// moves its start to the new timestamp. With MergeContinuations set, bare markers do
// not close anything; their text is folded into the pending speaker's segment.
type Segmenter struct {
	Classifier         Classifier
	MergeContinuations bool
	Logger             *slog.Logger
}

type marker struct {
	speaker   string
	company   string
	timestamp string
}

type pendingMarker struct {
	marker
	texts []string
}

// Segment parses stream. The last segment always has end = 0 because its true end is
// unknown until the video duration is known; see ReconcileTrailing.
func (s *Segmenter) Segment(stream string) []domain.TranscriptSegment {
	parts := splitMarkers(stream)
	isMarker := make([]bool, len(parts))
	markers := make([]marker, len(parts))
	for i, p := range parts {
		markers[i], isMarker[i] = parseMarker(p)
	}

	textBefore := func(i int) string {
		if i == 0 || isMarker[i-1] {
			return ""
		}
		return parts[i-1]
	}

	var (
		segs    []domain.TranscriptSegment
		pending *pendingMarker
	)
	for i := range parts {
		if !isMarker[i] {
			continue
		}
		m := markers[i]
		if pending == nil {
			if m.speaker != "" {
				pending = &pendingMarker{marker: m}
			}
			continue
		}

		texts := append(pending.texts, textBefore(i))
		if m.speaker == "" && s.MergeContinuations {
			pending.texts = texts
			continue
		}

		segs = append(segs, s.emit(pending.marker, m.timestamp, texts))
		if m.speaker != "" {
			pending = &pendingMarker{marker: m}
		} else {
			pending = &pendingMarker{marker: marker{
				speaker:   pending.speaker,
				company:   pending.company,
				timestamp: m.timestamp,
			}}
		}
	}

	if pending != nil {
		last := ""
		if n := len(parts); n > 0 && !isMarker[n-1] {
			last = parts[n-1]
		}
		segs = append(segs, s.emit(pending.marker, "00:00:00", append(pending.texts, last)))
	}
	return segs
}

func (s *Segmenter) emit(open marker, closeTS string, texts []string) domain.TranscriptSegment {
	nonEmpty := texts[:0:0]
	for _, t := range texts {
		if t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	text := strings.Join(nonEmpty, " ")

	company := open.company
	if company == "" {
		company = UnknownCompany
	}

	subjects := []string{}
	if s.Classifier != nil {
		if tags := s.Classifier.Classify(text); tags != nil {
			subjects = tags
		}
	}

	return domain.TranscriptSegment{
		Metadata: domain.SegmentMetadata{
			Speaker:        open.speaker,
			Company:        company,
			StartTimestamp: s.seconds(open.timestamp),
			EndTimestamp:   s.seconds(closeTS),
			Subjects:       subjects,
		},
		Text: text,
	}
}

func (s *Segmenter) seconds(ts string) int {
	n, err := ParseTimestamp(ts)
	if err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("invalid timestamp, using 0", "timestamp", ts)
	}
	return n
}

// splitMarkers splits stream around markers, keeping the markers. Parts are trimmed
// and empty parts dropped.
func splitMarkers(stream string) []string {
	var parts []string
	add := func(p string) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	prev := 0
	for _, loc := range markerSplit.FindAllStringIndex(stream, -1) {
		add(stream[prev:loc[0]])
		add(stream[loc[0]:loc[1]])
		prev = loc[1]
	}
	add(stream[prev:])
	return parts
}

func parseMarker(part string) (marker, bool) {
	m := markerParse.FindStringSubmatch(part)
	if m == nil {
		return marker{}, false
	}
	return marker{
		speaker:   strings.TrimSpace(m[1]),
		company:   strings.TrimSpace(m[2]),
		timestamp: m[3],
	}, true
}

// ParseTimestamp converts MM:SS or HH:MM:SS to seconds. Malformed input yields 0
// and an error.
func ParseTimestamp(ts string) (int, error) {
	fields := strings.Split(strings.TrimSpace(ts), ":")
	if len(fields) != 2 && len(fields) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}
	total := 0
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		total = total*60 + n
	}
	return total, nil
}

// SegmentHash is the content identity of a segment: the hex MD5 of its text, start,
// end and the video's title and date.
func SegmentHash(seg domain.TranscriptSegment, meta domain.VideoMetadata) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%d%d%s%s",
		seg.Text,
		seg.Metadata.StartTimestamp,
		seg.Metadata.EndTimestamp,
		meta.Title,
		meta.Date,
	)))
	return hex.EncodeToString(sum[:])
}

// FilterByDuration keeps segments lasting at least min seconds and reports how many
// were dropped.
func FilterByDuration(segs []domain.TranscriptSegment, min int) ([]domain.TranscriptSegment, int) {
	kept := make([]domain.TranscriptSegment, 0, len(segs))
	for _, s := range segs {
		if s.Duration() >= min {
			kept = append(kept, s)
		}
	}
	return kept, len(segs) - len(kept)
}

// ReconcileTrailing closes the trailing segment at videoDuration when its end is the
// unknown sentinel and the duration lies past its start. Otherwise segs is unchanged
// and the duration filter will drop the open segment.
func ReconcileTrailing(segs []domain.TranscriptSegment, videoDuration int) []domain.TranscriptSegment {
	if len(segs) == 0 || videoDuration <= 0 {
		return segs
	}
	last := &segs[len(segs)-1]
	if last.Metadata.EndTimestamp == 0 && videoDuration > last.Metadata.StartTimestamp {
		last.Metadata.EndTimestamp = videoDuration
	}
	return segs
}
