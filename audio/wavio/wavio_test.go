package wavio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	sampleRate := 48000
	n := 4800

	left := make([]float64, n)
	right := make([]float64, n)

	for i := range left {
		tSec := float64(i) / float64(sampleRate)
		left[i] = 0.5 * math.Sin(2*math.Pi*440*tSec)
		right[i] = 0.25 * math.Sin(2*math.Pi*880*tSec)
	}

	path := filepath.Join(t.TempDir(), "stereo.wav")
	in := &Buffer{Channels: [][]float64{left, right}, SampleRate: sampleRate}

	if err := Save(path, in); err != nil {
		t.Fatal(err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if out.SampleRate != sampleRate {
		t.Errorf("SampleRate = %d, want %d", out.SampleRate, sampleRate)
	}

	if out.NumChannels() != 2 {
		t.Fatalf("NumChannels = %d, want 2", out.NumChannels())
	}

	if out.NumFrames() != n {
		t.Fatalf("NumFrames = %d, want %d", out.NumFrames(), n)
	}

	// 16-bit quantization allows ~1/32768 error per sample.
	for i := 0; i < n; i += 37 {
		if math.Abs(out.Channels[0][i]-left[i]) > 1.0/16384 {
			t.Fatalf("left[%d] = %f, want %f", i, out.Channels[0][i], left[i])
		}

		if math.Abs(out.Channels[1][i]-right[i]) > 1.0/16384 {
			t.Fatalf("right[%d] = %f, want %f", i, out.Channels[1][i], right[i])
		}
	}
}

func TestMonoFoldAverages(t *testing.T) {
	b := &Buffer{
		Channels: [][]float64{
			{1, 0, -1, 0.5},
			{0, 1, -1, -0.5},
		},
		SampleRate: 48000,
	}

	mono := b.Mono()
	want := []float64{0.5, 0.5, -1, 0}

	for i, v := range want {
		if math.Abs(mono[i]-v) > 1e-12 {
			t.Errorf("mono[%d] = %f, want %f", i, mono[i], v)
		}
	}
}

func TestStereoPairDuplicatesMono(t *testing.T) {
	b := &Buffer{Channels: [][]float64{{0.1, 0.2, 0.3}}, SampleRate: 48000}

	left, right, note := b.StereoPair()
	if note == "" {
		t.Error("expected a mono-duplication note")
	}

	for i := range left {
		if left[i] != right[i] {
			t.Fatalf("channels differ at %d: %f != %f", i, left[i], right[i])
		}
	}
}

// writeFloat32WAV crafts a minimal IEEE-float WAV so non-finite samples can
// be injected byte-exactly.
func writeFloat32WAV(t *testing.T, path string, sampleRate int, samples []float32) {
	t.Helper()

	dataLen := len(samples) * 4
	buf := make([]byte, 0, 44+dataLen)

	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	u16 := func(v uint16) []byte {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, v)
		return b
	}

	buf = append(buf, []byte("RIFF")...)
	buf = append(buf, u32(uint32(36+dataLen))...)
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(3)...) // IEEE float
	buf = append(buf, u16(1)...) // mono
	buf = append(buf, u32(uint32(sampleRate))...)
	buf = append(buf, u32(uint32(sampleRate*4))...)
	buf = append(buf, u16(4)...)
	buf = append(buf, u16(32)...)
	buf = append(buf, []byte("data")...)
	buf = append(buf, u32(uint32(dataLen))...)

	for _, s := range samples {
		buf = append(buf, u32(math.Float32bits(s))...)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFloat32PreservesNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nan.wav")
	samples := []float32{0.5, float32(math.NaN()), -0.25, 0}

	writeFloat32WAV(t, path, 48000, samples)

	b, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if !b.Float {
		t.Error("expected Float flag for IEEE-float source")
	}

	got := b.Channels[0]
	if len(got) != len(samples) {
		t.Fatalf("frames = %d, want %d", len(got), len(samples))
	}

	if !math.IsNaN(got[1]) {
		t.Errorf("sample 1 = %f, want NaN preserved", got[1])
	}

	if got[0] != 0.5 || got[2] != -0.25 {
		t.Errorf("finite samples not preserved: %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}
