package discord

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20

	// opusFrameSize is the number of samples per channel in one frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000

	// opusFrameBytes is the PCM size of one frame: 960 × 2 × 2 = 3840.
	opusFrameBytes = opusFrameSize * opusChannels * audio.BytesPerSample
)

var opusFormat = audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}

// ssrcStream is the decoder state of one RTP source.
type ssrcStream struct {
	dec   *gopus.Decoder
	first uint32 // RTP timestamp of the first packet
}

// decoderSet decodes incoming packets with one Opus decoder per SSRC.
// It is owned by the receive loop and not safe for concurrent use.
type decoderSet struct {
	streams map[uint32]*ssrcStream
}

func newDecoderSet() *decoderSet {
	return &decoderSet{streams: make(map[uint32]*ssrcStream)}
}

// decode turns pkt into a PCM frame. Frame timestamps count from the first
// packet seen for the SSRC on the 48 kHz RTP clock; wraparound is handled
// by unsigned subtraction.
func (d *decoderSet) decode(pkt *discordgo.Packet) (audio.AudioFrame, error) {
	st, ok := d.streams[pkt.SSRC]
	if !ok {
		dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			return audio.AudioFrame{}, fmt.Errorf("discord: create opus decoder for ssrc %d: %w", pkt.SSRC, err)
		}
		st = &ssrcStream{dec: dec, first: pkt.Timestamp}
		d.streams[pkt.SSRC] = st
	}

	samples, err := st.dec.Decode(pkt.Opus, opusFrameSize, false)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("discord: opus decode ssrc %d: %w", pkt.SSRC, err)
	}
	pcm := make([]byte, len(samples)*audio.BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	elapsed := pkt.Timestamp - st.first
	return audio.AudioFrame{
		Data:       pcm,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
		Timestamp:  time.Duration(elapsed) * time.Second / opusSampleRate,
	}, nil
}

// reset forgets the decoder of ssrc so the next packet starts a fresh
// stream with its own clock.
func (d *decoderSet) reset(ssrc uint32) {
	delete(d.streams, ssrc)
}

// opusEncoder encodes the single outgoing stream of a connection.
type opusEncoder struct {
	enc     *gopus.Encoder
	samples []int16
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, samples: make([]int16, opusFrameSize*opusChannels)}, nil
}

// encode encodes one frame of 48 kHz stereo PCM. Input shorter than a
// frame is padded with silence; anything beyond one frame is ignored.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	clear(e.samples)
	for i := range min(len(pcm)/audio.BytesPerSample, len(e.samples)) {
		e.samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	pkt, err := e.enc.Encode(e.samples, opusFrameSize, opusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return pkt, nil
}
