package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/youpy/go-wav"
)

// ErrUnsupportedWAV is returned by [DecodeWAV] for anything other than 16-bit
// mono or stereo PCM.
var ErrUnsupportedWAV = errors.New("audio: unsupported wav format")

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if !f.Valid() || f.Channels > 2 {
		return nil, fmt.Errorf("audio: encode wav: %w: %s", ErrUnsupportedWAV, f)
	}
	frames := len(pcm) / (f.Channels * BytesPerSample)

	samples := make([]wav.Sample, frames)
	for i := range samples {
		for ch := range f.Channels {
			off := (i*f.Channels + ch) * BytesPerSample
			samples[i].Values[ch] = int(int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8))
		}
	}

	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(frames), uint16(f.Channels), uint32(f.SampleRate), 16)
	if err := w.WriteSamples(samples); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV reads a 16-bit PCM WAV file and returns its interleaved samples
// together with the stream format.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	r := wav.NewReader(bytes.NewReader(data))
	wf, err := r.Format()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if wf.BitsPerSample != 16 || wf.NumChannels == 0 || wf.NumChannels > 2 {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w: %d-bit %d channels",
			ErrUnsupportedWAV, wf.BitsPerSample, wf.NumChannels)
	}
	f := Format{SampleRate: int(wf.SampleRate), Channels: int(wf.NumChannels)}

	var out []byte
	for {
		samples, err := r.ReadSamples()
		for _, s := range samples {
			for ch := range f.Channels {
				v := uint16(int16(s.Values[ch]))
				out = append(out, byte(v), byte(v>>8))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
		}
	}
	return out, f, nil
}
