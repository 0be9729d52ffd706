package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/MrWong99/huddle/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samples16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func constant(n int, v int16) []byte {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return pcm16(s...)
}

func TestChannelConversion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func([]byte) []byte
		in   []byte
		want []int16
	}{
		{"mono to stereo", audio.MonoToStereo, pcm16(100, -200, 300), []int16{100, 100, -200, -200, 300, 300}},
		{"mono to stereo drops odd byte", audio.MonoToStereo, append(pcm16(7, 8), 0xFF), []int16{7, 7, 8, 8}},
		{"stereo to mono averages", audio.StereoToMono, pcm16(100, 200, -100, -200), []int16{150, -150}},
		{"stereo to mono at full scale", audio.StereoToMono, pcm16(32767, 32767, -32768, -32768), []int16{32767, -32768}},
		{"stereo to mono drops partial frame", audio.StereoToMono, pcm16(10, 20, 30), []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := samples16(tt.fn(tt.in)); !slices.Equal(got, tt.want) {
				t.Errorf("samples = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResample16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        []byte
		channels  int
		src, dst  int
		wantCount int
	}{
		{"same rate", pcm16(1, 2, 3), 1, 48000, 48000, 3},
		{"mono upsample", pcm16(1000, 2000), 1, 16000, 48000, 6},
		{"mono downsample", pcm16(100, 200, 300, 400, 500, 600), 1, 48000, 16000, 2},
		{"stereo upsample", pcm16(100, 200, 300, 400), 2, 16000, 48000, 12},
		{"zero src rate", pcm16(1, 2), 1, 0, 48000, 2},
		{"negative dst rate", pcm16(1, 2), 1, 48000, -1, 2},
		{"zero channels", pcm16(1, 2), 0, 16000, 48000, 2},
		{"too short for one output frame", pcm16(5), 1, 48000, 16000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := audio.Resample16(tt.in, tt.channels, tt.src, tt.dst)
			if got := len(out) / 2; got != tt.wantCount {
				t.Errorf("samples = %d, want %d", got, tt.wantCount)
			}
		})
	}
}

func TestResample16_Interpolates(t *testing.T) {
	t.Parallel()

	got := samples16(audio.Resample16(pcm16(1000, 2000), 1, 16000, 48000))
	if got[0] != 1000 {
		t.Errorf("first sample = %d, want 1000", got[0])
	}
	if got[1] <= 1000 || got[1] >= 2000 {
		t.Errorf("second sample = %d, want between the source samples", got[1])
	}
	if last := got[len(got)-1]; last != 2000 {
		t.Errorf("last sample = %d, want 2000", last)
	}
}

func TestResample16_KeepsChannelsApart(t *testing.T) {
	t.Parallel()

	// Left is constant 500, right constant -500.
	in := pcm16(500, -500, 500, -500, 500, -500)
	got := samples16(audio.Resample16(in, 2, 24000, 48000))
	for i, s := range got {
		want := int16(500)
		if i%2 == 1 {
			want = -500
		}
		if s != want {
			t.Fatalf("sample %d = %d, want %d", i, s, want)
		}
	}
}

func TestConvertPCM(t *testing.T) {
	t.Parallel()

	discord := audio.Format{SampleRate: 48000, Channels: 2}
	stt := audio.Format{SampleRate: 16000, Channels: 1}
	speech := audio.Format{SampleRate: 24000, Channels: 1}

	tests := []struct {
		name      string
		in        []byte
		from, to  audio.Format
		wantCount int
		wantValue int16
	}{
		// 480 stereo frames at 48 kHz = 10 ms; 10 ms at 16 kHz mono = 160 samples.
		{"discord to stt", constant(960, 1000), discord, stt, 160, 1000},
		// 240 samples at 24 kHz = 10 ms; 480 stereo frames at 48 kHz.
		{"speech to discord", constant(240, -42), speech, discord, 960, -42},
		{"same format", constant(4, 3), stt, stt, 4, 3},
		{"odd byte dropped", append(constant(4, 3), 0x01), stt, stt, 4, 3},
		{"invalid source format", constant(4, 9), audio.Format{}, stt, 4, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := audio.ConvertPCM(tt.in, tt.from, tt.to)
			if len(out)%2 != 0 {
				t.Fatalf("len = %d, want an even byte count", len(out))
			}
			got := samples16(out)
			if len(got) != tt.wantCount {
				t.Fatalf("samples = %d, want %d", len(got), tt.wantCount)
			}
			for i, s := range got {
				if s != tt.wantValue {
					t.Fatalf("sample %d = %d, want %d", i, s, tt.wantValue)
				}
			}
		})
	}
}

func TestFloat32Samples(t *testing.T) {
	t.Parallel()

	got := audio.Float32Samples(append(pcm16(0, 16384, -32768, 32767), 0x7F))
	want := []float32{0, 0.5, -1, 32767.0 / 32768}
	if !slices.Equal(got, want) {
		t.Errorf("Float32Samples = %v, want %v", got, want)
	}
	if got := audio.Float32Samples(nil); len(got) != 0 {
		t.Errorf("Float32Samples(nil) = %v, want empty", got)
	}
}

func TestAudioFrame_Format(t *testing.T) {
	t.Parallel()

	f := audio.AudioFrame{SampleRate: 48000, Channels: 2}
	if got := f.Format(); got != (audio.Format{SampleRate: 48000, Channels: 2}) {
		t.Errorf("Format() = %v, want 48000Hz stereo", got)
	}
}

func TestFormat_SilenceBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		f     audio.Format
		gapMs float64
		want  int
	}{
		{"one second stereo", audio.Format{SampleRate: 48000, Channels: 2}, 1000, 48000 * 2 * 2},
		{"fractional sample floors", audio.Format{SampleRate: 16000, Channels: 1}, 0.1, 2},
		{"sub-sample gap", audio.Format{SampleRate: 8000, Channels: 1}, 0.1, 0},
		{"negative gap", audio.Format{SampleRate: 48000, Channels: 2}, -20, 0},
		{"zero gap", audio.Format{SampleRate: 48000, Channels: 2}, 0, 0},
		{"odd ms", audio.Format{SampleRate: 44100, Channels: 1}, 33, 1455 * 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.f.SilenceBytes(tt.gapMs); got != tt.want {
				t.Errorf("SilenceBytes(%v) = %d, want %d", tt.gapMs, got, tt.want)
			}
		})
	}
}

func TestFormat_DurationMs(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 48000, Channels: 2}
	if got := f.DurationMs(3840); got != 20 {
		t.Errorf("DurationMs(3840) = %v, want 20", got)
	}
	if got := (audio.Format{}).DurationMs(100); got != 0 {
		t.Errorf("zero format DurationMs = %v, want 0", got)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
