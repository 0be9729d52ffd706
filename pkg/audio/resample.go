package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// ConvertPCMQuality is [ConvertPCM] with a band-limited resampler instead of
// linear interpolation. It costs more CPU and suits batch work such as
// speech-to-text uploads, where aliasing from downsampling 48 kHz capture
// audio hurts recognition. The output length matches ConvertPCM's.
func ConvertPCMQuality(pcm []byte, from, to Format) ([]byte, error) {
	if len(pcm)%BytesPerSample != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if from == to || !from.Valid() || !to.Valid() {
		return pcm, nil
	}
	if from.Channels == 2 && to.Channels == 1 {
		pcm = StereoToMono(pcm)
		from.Channels = 1
	}
	if from.SampleRate != to.SampleRate {
		var err error
		if pcm, err = resampleSinc(pcm, from.Channels, from.SampleRate, to.SampleRate); err != nil {
			return nil, err
		}
	}
	if from.Channels == 1 && to.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm, nil
}

// resampleSinc runs pcm through a one-shot high quality resampler. The input
// is followed by 50 ms of silence to push the filter's delay line out; the
// result is cut or padded to the exact frame count of the conversion.
func resampleSinc(pcm []byte, channels, srcRate, dstRate int) ([]byte, error) {
	srcFrames := len(pcm) / (channels * BytesPerSample)
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	tail := srcRate / 20
	in := make([]float64, (srcFrames+tail)*channels)
	for i := range srcFrames * channels {
		in[i] = float64(sampleAt(pcm, i)) / 32768
	}
	res, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	out := make([]byte, dstFrames*channels*BytesPerSample)
	for i := range min(len(res), dstFrames*channels) {
		putSample(out, i, toInt16(res[i]))
	}
	return out, nil
}

func toInt16(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}
