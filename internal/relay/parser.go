package relay

import (
	"math"
	"strconv"
	"time"

	"github.com/smazurov/relaynode/internal/ffmpeg"
)

// Transition is the status change implied by one output line.
type Transition int

// Line classifications, in increasing severity.
const (
	TransitionSteady Transition = iota
	TransitionDegraded
	TransitionFatal
)

func (t Transition) String() string {
	switch t {
	case TransitionDegraded:
		return "degraded"
	case TransitionFatal:
		return "fatal"
	default:
		return "steady"
	}
}

// ParseLine folds one diagnostic line into h. Progress tokens update fps
// and bitrate; an error line or a fatal signature records the line as
// the last error. A fatal signature wins over a plain error. Lines that
// fail to parse leave the previous values in place.
func ParseLine(line string, h Health, now time.Time) (Health, Transition) {
	h.LastHealthCheckAt = now
	tr := TransitionSteady

	if tok, ok := ffmpeg.ProgressValue(line, "fps"); ok {
		if f, err := strconv.ParseFloat(tok, 64); err == nil && f >= 0 && f < math.MaxInt32 {
			h.FPS = int(f)
		}
	}
	if tok, ok := ffmpeg.ProgressValue(line, "bitrate"); ok {
		h.Bitrate = tok
	}

	if ffmpeg.IsErrorLine(line) {
		h.LastError = &line
		tr = TransitionDegraded
	}
	if _, ok := ffmpeg.MatchFatal(line); ok {
		h.LastError = &line
		tr = TransitionFatal
	}
	return h, tr
}
