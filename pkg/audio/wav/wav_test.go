package wav_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/domainscribe/pkg/audio/wav"
)

func TestHeader_Layout(t *testing.T) {
	t.Parallel()
	h := wav.Header(100, 16000)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"riff id", string(h[0:4]), "RIFF"},
		{"riff size", binary.LittleEndian.Uint32(h[4:8]), uint32(236)},
		{"wave id", string(h[8:12]), "WAVE"},
		{"fmt id", string(h[12:16]), "fmt "},
		{"fmt size", binary.LittleEndian.Uint32(h[16:20]), uint32(16)},
		{"format", binary.LittleEndian.Uint16(h[20:22]), uint16(1)},
		{"channels", binary.LittleEndian.Uint16(h[22:24]), uint16(1)},
		{"sample rate", binary.LittleEndian.Uint32(h[24:28]), uint32(16000)},
		{"byte rate", binary.LittleEndian.Uint32(h[28:32]), uint32(32000)},
		{"block align", binary.LittleEndian.Uint16(h[32:34]), uint16(2)},
		{"bits", binary.LittleEndian.Uint16(h[34:36]), uint16(16)},
		{"data id", string(h[36:40]), "data"},
		{"data size", binary.LittleEndian.Uint32(h[40:44]), uint32(200)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 1, -1, 32767, -32768, 1234, -4321}
	path := filepath.Join(t.TempDir(), "utterance_0001.wav")

	if err := wav.Write(path, samples, 16000); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := wav.HeaderSize + 2*len(samples); len(raw) != want {
		t.Fatalf("file size = %d, want %d", len(raw), want)
	}

	got, rate, ch, err := wav.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rate != 16000 || ch != 1 {
		t.Errorf("rate/channels = %d/%d, want 16000/1", rate, ch)
	}
	if len(got) != len(samples) {
		t.Fatalf("len = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestEncode_MatchesWrite(t *testing.T) {
	t.Parallel()
	samples := []int16{10, -20, 30}
	var buf bytes.Buffer
	if err := wav.Encode(&buf, samples, 16000); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "a.wav")
	if err := wav.Write(path, samples, 16000); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if !bytes.Equal(raw, buf.Bytes()) {
		t.Error("Encode and Write produced different bytes")
	}
}

func TestWrite_EmptyIsHeaderOnly(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.wav")
	if err := wav.Write(path, nil, 16000); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != wav.HeaderSize {
		t.Errorf("size = %d, want %d", info.Size(), wav.HeaderSize)
	}
}

func TestWrite_CreateError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	err := wav.Write(filepath.Join(blocker, "x.wav"), []int16{1}, 16000)
	var werr *wav.Error
	if !errors.As(err, &werr) {
		t.Fatalf("error = %v, want *wav.Error", err)
	}
	if werr.Op != "create" {
		t.Errorf("Op = %q, want create", werr.Op)
	}
}

func TestRead_RejectsNonPCM16(t *testing.T) {
	t.Parallel()
	h := wav.Header(2, 16000)
	binary.LittleEndian.PutUint16(h[34:36], 8) // claim 8-bit
	data := append(h[:], 1, 2, 3, 4)
	if _, _, _, err := wav.Decode(bytes.NewReader(data)); err == nil {
		t.Error("expected error for 8-bit input")
	}
}

func TestToFloat32Mono(t *testing.T) {
	t.Parallel()
	got := wav.ToFloat32Mono([]int16{16384, -16384, 0, 32767}, 2)
	want := []float32{0, 32767.0 / 65536.0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if d := got[i] - want[i]; d > 1e-6 || d < -1e-6 {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
