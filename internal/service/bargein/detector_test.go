package bargein

import (
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
)

// pcmFrame builds a 16-bit LE frame where every sample has the given value.
func pcmFrame(sample int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(sample))
	}
	return frame
}

func newDetector() *Detector {
	return New(DefaultThreshold, DefaultStrikes, zerolog.Nop())
}

func TestDetector_ThreeLoudFramesTrigger(t *testing.T) {
	d := newDetector()
	loud := pcmFrame(4000, 160)

	if d.Feed(loud) {
		t.Error("first loud frame should not trigger")
	}
	if d.Feed(loud) {
		t.Error("second loud frame should not trigger")
	}
	if !d.Feed(loud) {
		t.Error("third consecutive loud frame should trigger")
	}
}

func TestDetector_QuietFrameResetsStrikes(t *testing.T) {
	d := newDetector()
	loud := pcmFrame(4000, 160)
	quiet := pcmFrame(10, 160)

	d.Feed(loud)
	d.Feed(loud)
	if d.Feed(quiet) {
		t.Error("quiet frame must not trigger")
	}
	if d.Strikes() != 0 {
		t.Errorf("expected strikes reset to 0, got %d", d.Strikes())
	}

	// Two more loud frames are not enough after the reset.
	d.Feed(loud)
	if d.Feed(loud) {
		t.Error("two loud frames after reset should not trigger")
	}
}

func TestDetector_ExactlyOneSignalPerBargeIn(t *testing.T) {
	d := newDetector()
	loud := pcmFrame(4000, 160)

	triggers := 0
	for i := 0; i < 4; i++ {
		if d.Feed(loud) {
			triggers++
		}
	}
	// Strikes reset on trigger, so frame 4 starts a fresh count.
	if triggers != 1 {
		t.Errorf("expected exactly one trigger in 4 loud frames, got %d", triggers)
	}
}

func TestDetector_MalformedFrameIgnored(t *testing.T) {
	d := newDetector()
	loud := pcmFrame(4000, 160)

	d.Feed(loud)
	d.Feed(loud)

	// Odd-length frame must neither trigger nor reset the count.
	if d.Feed([]byte{0x01, 0x02, 0x03}) {
		t.Error("malformed frame must not trigger")
	}
	if d.Strikes() != 2 {
		t.Errorf("expected strikes untouched at 2, got %d", d.Strikes())
	}

	if !d.Feed(loud) {
		t.Error("third loud frame should still trigger after malformed frame")
	}
}

func TestDetector_EmptyFrameIgnored(t *testing.T) {
	d := newDetector()
	if d.Feed(nil) {
		t.Error("empty frame must not trigger")
	}
}

func TestDetector_Reset(t *testing.T) {
	d := newDetector()
	loud := pcmFrame(4000, 160)

	d.Feed(loud)
	d.Feed(loud)
	d.Reset()
	if d.Strikes() != 0 {
		t.Errorf("expected strikes 0 after reset, got %d", d.Strikes())
	}
}

func TestMeanAbsAmplitude(t *testing.T) {
	tests := []struct {
		name     string
		frame    []byte
		expected float64
		wantErr  bool
	}{
		{"silence", pcmFrame(0, 80), 0, false},
		{"constant positive", pcmFrame(1000, 80), 1000, false},
		{"constant negative", pcmFrame(-1000, 80), 1000, false},
		{"min sample", pcmFrame(-32768, 4), 32768, false},
		{"empty", nil, 0, true},
		{"odd length", []byte{0x01}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := meanAbsAmplitude(tt.frame)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("meanAbsAmplitude = %v, want %v", got, tt.expected)
			}
		})
	}
}
