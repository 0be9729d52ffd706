package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/huddle/pkg/audio"
)

// rms returns the root mean square of s relative to full scale.
func rms(s []int16) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		f := float64(v) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(s)))
}

func TestConvertPCMQuality_Lengths(t *testing.T) {
	t.Parallel()

	discord := audio.Format{SampleRate: 48000, Channels: 2}
	stt := audio.Format{SampleRate: 16000, Channels: 1}
	speech := audio.Format{SampleRate: 24000, Channels: 1}

	tests := []struct {
		name     string
		in       []byte
		from, to audio.Format
	}{
		{"discord to stt", constant(96000, 1000), discord, stt},
		{"speech to discord", constant(24000, -500), speech, discord},
		{"same format", constant(10, 3), stt, stt},
		{"shorter than one output frame", constant(2, 3), discord, stt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.ConvertPCMQuality(tt.in, tt.from, tt.to)
			if err != nil {
				t.Fatalf("ConvertPCMQuality: %v", err)
			}
			if want := len(audio.ConvertPCM(tt.in, tt.from, tt.to)); len(got) != want {
				t.Errorf("len = %d, want %d as from ConvertPCM", len(got), want)
			}
		})
	}
}

func TestConvertPCMQuality_KeepsLevel(t *testing.T) {
	t.Parallel()

	// One second of 48 kHz stereo at a constant level.
	out, err := audio.ConvertPCMQuality(constant(96000, 8000),
		audio.Format{SampleRate: 48000, Channels: 2}, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("ConvertPCMQuality: %v", err)
	}
	s := samples16(out)
	if mid := s[len(s)/2]; mid < 7800 || mid > 8200 {
		t.Errorf("middle sample = %d, want about 8000", mid)
	}
}

func TestConvertPCMQuality_SuppressesAliasing(t *testing.T) {
	t.Parallel()

	// A 12 kHz tone cannot be represented at 16 kHz. Linear interpolation
	// folds it to 4 kHz at full level; a band-limited resampler removes it.
	tone := make([]int16, 48000)
	for i := range tone {
		tone[i] = int16(16000 * math.Sin(2*math.Pi*12000*float64(i)/48000))
	}
	from := audio.Format{SampleRate: 48000, Channels: 1}
	to := audio.Format{SampleRate: 16000, Channels: 1}

	hq, err := audio.ConvertPCMQuality(pcm16(tone...), from, to)
	if err != nil {
		t.Fatalf("ConvertPCMQuality: %v", err)
	}
	linear := samples16(audio.ConvertPCM(pcm16(tone...), from, to))
	mid := func(s []int16) []int16 { return s[len(s)/4 : 3*len(s)/4] }

	in := rms(tone)
	if got := rms(mid(samples16(hq))); got > in/10 {
		t.Errorf("band-limited rms = %.4f, want below %.4f", got, in/10)
	}
	if got := rms(mid(linear)); got < in/2 {
		t.Errorf("linear rms = %.4f, expected aliasing above %.4f", got, in/2)
	}
}
