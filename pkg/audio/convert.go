package audio

import "encoding/binary"

// ConvertPCM converts a whole PCM buffer from one format to another. It is
// used for snippets, synthesized speech, cue files and STT uploads. A
// trailing odd byte is dropped. Channel counts other than 1 and 2 are only
// resampled.
func ConvertPCM(pcm []byte, from, to Format) []byte {
	if len(pcm)%BytesPerSample != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if from == to || !from.Valid() || !to.Valid() {
		return pcm
	}
	// Downmix first so the resampler touches half the samples.
	if from.Channels == 2 && to.Channels == 1 {
		pcm = StereoToMono(pcm)
		from.Channels = 1
	}
	pcm = Resample16(pcm, from.Channels, from.SampleRate, to.SampleRate)
	if from.Channels == 1 && to.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// Format returns the format the frame's data is encoded in.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// MonoToStereo copies each mono sample to both channels.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		s := pcm[i*2 : i*2+2]
		copy(out[i*4:], s)
		copy(out[i*4+2:], s)
	}
	return out
}

// StereoToMono averages the two channels of every frame. A trailing partial
// frame is dropped.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate by linear interpolation between neighbouring
// frames. Non-positive rates or channel counts return pcm unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * BytesPerSample)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			a := float64(sampleAt(pcm, idx*channels+ch))
			b := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(a+(b-a)*frac))
		}
	}
	return out
}

// Float32Samples converts 16-bit PCM to float32 samples in [-1, 1), the
// input format of whisper.cpp. A trailing odd byte is ignored.
func Float32Samples(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}
