// Package wav reads and writes the single audio format the capture pipeline
// produces: uncompressed 16-bit signed little-endian PCM, mono, in a RIFF
// container with a canonical 44-byte header.
//
// Writing is hand-rolled because the header layout is fixed and the writer
// must flush and fsync before an utterance is published. Reading goes through
// github.com/go-audio/wav so that files produced by other tools (for example
// an ffmpeg enhancement pass with extra chunks) decode as well.
package wav

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	gowav "github.com/go-audio/wav"
)

// HeaderSize is the size in bytes of the canonical PCM header.
const HeaderSize = 44

const (
	bitsPerSample = 16
	channels      = 1
	formatPCM     = 1
)

// Error describes a failed WAV operation on a file.
type Error struct {
	Op   string // "create", "write", "sync", "close", "open", "decode"
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("wav: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Header returns the 44-byte header for numSamples mono 16-bit samples at
// sampleRate.
func Header(numSamples, sampleRate int) [HeaderSize]byte {
	var h [HeaderSize]byte
	dataSize := uint32(numSamples * 2)
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	// RIFF chunk descriptor
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")

	// fmt sub-chunk
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)

	// data sub-chunk
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// Encode writes a complete WAV stream for samples to w.
func Encode(w io.Writer, samples []int16, sampleRate int) error {
	h := Header(len(samples), sampleRate)
	if _, err := w.Write(h[:]); err != nil {
		return err
	}
	var buf [2]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint16(buf[:], uint16(s))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// Write creates (or truncates) the file at path and writes samples to it as
// a mono 16-bit WAV at sampleRate. The file is synced before Write returns.
// Errors are of type [*Error]; no retries are attempted.
func Write(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return &Error{Op: "create", Path: path, Err: err}
	}
	bw := bufio.NewWriterSize(f, 32*1024)
	if err := Encode(bw, samples, sampleRate); err != nil {
		f.Close()
		return &Error{Op: "write", Path: path, Err: err}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return &Error{Op: "write", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &Error{Op: "sync", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &Error{Op: "close", Path: path, Err: err}
	}
	return nil
}

// Decode reads a 16-bit PCM WAV stream and returns the samples (interleaved
// if the stream has more than one channel), the sample rate and the channel
// count.
func Decode(r io.ReadSeeker) (samples []int16, sampleRate, numChannels int, err error) {
	d := gowav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, 0, 0, err
	}
	if d.WavAudioFormat != formatPCM {
		return nil, 0, 0, fmt.Errorf("unsupported audio format %d", d.WavAudioFormat)
	}
	if d.BitDepth != bitsPerSample {
		return nil, 0, 0, fmt.Errorf("unsupported bit depth %d", d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, err
	}
	samples = make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, int(d.SampleRate), int(d.NumChans), nil
}

// Read decodes the WAV file at path. See [Decode].
func Read(path string) (samples []int16, sampleRate, numChannels int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, &Error{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	samples, sampleRate, numChannels, err = Decode(f)
	if err != nil {
		return nil, 0, 0, &Error{Op: "decode", Path: path, Err: err}
	}
	return samples, sampleRate, numChannels, nil
}

// ToFloat32Mono converts interleaved int16 samples to mono float32 in
// [-1.0, 1.0) by averaging channels and dividing by 32768.
func ToFloat32Mono(samples []int16, numChannels int) []float32 {
	if numChannels <= 1 {
		out := make([]float32, len(samples))
		for i, s := range samples {
			out[i] = float32(s) / 32768.0
		}
		return out
	}
	n := len(samples) / numChannels
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for c := range numChannels {
			sum += float32(samples[i*numChannels+c]) / 32768.0
		}
		out[i] = sum / float32(numChannels)
	}
	return out
}
