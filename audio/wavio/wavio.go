package wavio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Errors returned by the loader.
var (
	ErrNotWAV           = errors.New("wavio: not a valid WAV file")
	ErrUnsupportedDepth = errors.New("wavio: unsupported bit depth")
	ErrEmptyData        = errors.New("wavio: no audio data")
)

const (
	formatPCM       = 1
	formatIEEEFloat = 3
)

// Buffer holds decoded, normalized audio with per-channel sample slices.
type Buffer struct {
	Channels   [][]float64
	SampleRate int
	BitDepth   int
	Float      bool // source was IEEE float
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int { return len(b.Channels) }

// NumFrames returns the per-channel sample count.
func (b *Buffer) NumFrames() int {
	if len(b.Channels) == 0 {
		return 0
	}

	return len(b.Channels[0])
}

// Duration returns the recording length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}

	return float64(b.NumFrames()) / float64(b.SampleRate)
}

// Mono returns a mono fold of the buffer: single-channel data unchanged,
// multi-channel data averaged across channels.
func (b *Buffer) Mono() []float64 {
	if len(b.Channels) == 0 {
		return nil
	}

	if len(b.Channels) == 1 {
		out := make([]float64, len(b.Channels[0]))
		copy(out, b.Channels[0])

		return out
	}

	n := b.NumFrames()
	out := make([]float64, n)
	scale := 1.0 / float64(len(b.Channels))

	for _, ch := range b.Channels {
		for i, v := range ch {
			out[i] += v * scale
		}
	}

	return out
}

// StereoPair returns left and right channels for binaural analysis.
// Mono input is duplicated into both channels and the returned note records
// the caveat; extra channels beyond the first two are ignored with a note.
// The caller must not treat duplicated channels as real spatial information.
func (b *Buffer) StereoPair() (left, right []float64, note string) {
	switch {
	case len(b.Channels) == 0:
		return nil, nil, ""
	case len(b.Channels) == 1:
		return b.Channels[0], b.Channels[0], "input is mono; duplicating channel for analysis"
	case len(b.Channels) == 2:
		return b.Channels[0], b.Channels[1], ""
	default:
		return b.Channels[0], b.Channels[1],
			fmt.Sprintf("input has %d channels; using first two", len(b.Channels))
	}
}

// Load decodes a WAV file into a normalized Buffer.
//
// 24-bit samples arrive from the decoder already unpacked from their
// 3-byte little-endian representation; all integer formats are scaled by
// their nominal full scale. IEEE float data is read raw from the data chunk
// so NaN and Inf samples survive decoding.
func Load(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavio: open %s: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()

	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}

	numChans := int(d.NumChans)
	sampleRate := int(d.SampleRate)
	bitDepth := int(d.BitDepth)

	if numChans <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}

	var (
		interleaved []float64
		isFloat     bool
	)

	switch d.WavAudioFormat {
	case formatPCM:
		interleaved, err = decodePCM(d, bitDepth)
	case formatIEEEFloat:
		isFloat = true
		interleaved, err = decodeFloat(d, bitDepth)
	default:
		err = fmt.Errorf("%w: audio format %d", ErrUnsupportedDepth, d.WavAudioFormat)
	}

	if err != nil {
		return nil, err
	}

	if len(interleaved) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyData, path)
	}

	return &Buffer{
		Channels:   deinterleave(interleaved, numChans),
		SampleRate: sampleRate,
		BitDepth:   bitDepth,
		Float:      isFloat,
	}, nil
}

// decodePCM reads integer PCM data and normalizes by nominal full scale.
func decodePCM(d *wav.Decoder, bitDepth int) ([]float64, error) {
	var scale float64

	switch bitDepth {
	case 16:
		scale = 1.0 / 32768.0
	case 24:
		scale = 1.0 / 8388608.0 // 2^23
	case 32:
		scale = 1.0 / 2147483648.0
	default:
		return nil, fmt.Errorf("%w: %d-bit PCM", ErrUnsupportedDepth, bitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavio: decode PCM: %w", err)
	}

	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float64(v) * scale
	}

	return out, nil
}

// decodeFloat reads 32-bit IEEE float samples directly from the data chunk.
func decodeFloat(d *wav.Decoder, bitDepth int) ([]float64, error) {
	if bitDepth != 32 {
		return nil, fmt.Errorf("%w: %d-bit float", ErrUnsupportedDepth, bitDepth)
	}

	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wavio: locate data chunk: %w", err)
	}

	raw, err := io.ReadAll(d.PCMChunk)
	if err != nil {
		return nil, fmt.Errorf("wavio: read data chunk: %w", err)
	}

	n := len(raw) / 4
	out := make([]float64, n)

	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		out[i] = float64(math.Float32frombits(bits))
	}

	return out, nil
}

// deinterleave splits channel-interleaved samples into per-channel slices.
// A trailing partial frame is dropped.
func deinterleave(interleaved []float64, numChans int) [][]float64 {
	frames := len(interleaved) / numChans
	out := make([][]float64, numChans)

	for ch := range out {
		out[ch] = make([]float64, frames)
		for i := 0; i < frames; i++ {
			out[ch][i] = interleaved[i*numChans+ch]
		}
	}

	return out
}

// Save writes the buffer as 16-bit PCM. Samples are clamped to [-1, 1].
// Intended for fixtures and captured test signals, not for archival audio.
func Save(path string, b *Buffer) error {
	if b.NumFrames() == 0 || b.NumChannels() == 0 {
		return ErrEmptyData
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavio: create %s: %w", path, err)
	}
	defer f.Close()

	numChans := b.NumChannels()
	frames := b.NumFrames()
	data := make([]int, frames*numChans)

	for ch, samples := range b.Channels {
		for i, v := range samples {
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}

			data[i*numChans+ch] = int(math.Round(v * 32767))
		}
	}

	enc := wav.NewEncoder(f, b.SampleRate, 16, numChans, formatPCM)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChans, SampleRate: b.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavio: write %s: %w", path, err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavio: close %s: %w", path, err)
	}

	return nil
}
