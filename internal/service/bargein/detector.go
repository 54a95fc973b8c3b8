// Package bargein detects a caller speaking over a playing prompt by mean
// absolute amplitude. It is a debounced edge detector, not a full VAD: line
// noise is mitigated only by the consecutive-strike count.
package bargein

import (
	"encoding/binary"
	"errors"

	"github.com/rs/zerolog"
)

// DefaultThreshold is the mean absolute 16-bit amplitude above which a frame
// counts as loud on a typical 8kHz telephony line.
const DefaultThreshold = 900

// DefaultStrikes is how many consecutive loud frames trigger a barge-in.
const DefaultStrikes = 3

var errOddFrame = errors.New("frame length is not a multiple of 2")

// Detector counts consecutive loud frames for one session. Not safe for
// concurrent use; it is only ever fed from the audio-ingest path.
type Detector struct {
	threshold float64
	needed    int
	strikes   int
	log       zerolog.Logger
}

// New creates a detector with the given amplitude threshold and strike count.
// Non-positive arguments fall back to the defaults.
func New(threshold float64, strikes int, log zerolog.Logger) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if strikes <= 0 {
		strikes = DefaultStrikes
	}
	return &Detector{threshold: threshold, needed: strikes, log: log}
}

// Feed analyzes one frame and returns true when the strike count is reached.
// A quiet frame resets the count; a triggering frame resets it as well so the
// caller sees exactly one signal per barge-in. Malformed frames are logged
// and ignored without disturbing the count.
func (d *Detector) Feed(frame []byte) bool {
	amp, err := meanAbsAmplitude(frame)
	if err != nil {
		d.log.Debug().Err(err).Int("frameBytes", len(frame)).Msg("Barge-in analysis skipped for malformed frame")
		return false
	}

	if amp <= d.threshold {
		d.strikes = 0
		return false
	}

	d.strikes++
	if d.strikes < d.needed {
		return false
	}
	d.strikes = 0
	return true
}

// Strikes returns the current consecutive loud-frame count.
func (d *Detector) Strikes() int {
	return d.strikes
}

// Reset clears the strike count, used when playback starts or stops.
func (d *Detector) Reset() {
	d.strikes = 0
}

// meanAbsAmplitude interprets frame as 16-bit little-endian PCM samples and
// returns the mean absolute sample value.
func meanAbsAmplitude(frame []byte) (float64, error) {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return 0, errOddFrame
	}

	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		s := int16(binary.LittleEndian.Uint16(frame[i : i+2]))
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(len(frame)/2), nil
}
