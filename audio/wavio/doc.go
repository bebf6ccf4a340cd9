// Package wavio loads WAV recordings into normalized float64 sample
// buffers for offline analysis.
//
// Supported encodings are 16/24/32-bit integer PCM and 32-bit IEEE float.
// Integer samples are normalized to approximately [-1, 1] by their nominal
// full scale (2^15, 2^23, 2^31). Float samples are passed through
// unmodified, including non-finite values, so that downstream stability
// checks see exactly what the capture produced.
//
// # Usage
//
//	buf, err := wavio.Load("wet.wav")
//	mono := buf.Mono()
//	left, right, _ := buf.StereoPair()
package wavio
