package beat

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeTestWAV(t *testing.T, path string, data []int, numChans int) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, 8000, 16, numChans, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChans, SampleRate: 8000},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

func TestDecodeWAVFile_Mono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	writeTestWAV(t, path, []int{0, 16384, -16384, 32767}, 1)

	track, err := DecodeWAVFile(path)
	if err != nil {
		t.Fatalf("DecodeWAVFile() error = %v", err)
	}

	if track.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", track.SampleRate)
	}
	if len(track.Samples) != 4 {
		t.Fatalf("got %d samples, want 4", len(track.Samples))
	}
	if track.Samples[0] != 0 {
		t.Errorf("Samples[0] = %f, want 0", track.Samples[0])
	}
	if track.Samples[1] != 0.5 {
		t.Errorf("Samples[1] = %f, want 0.5", track.Samples[1])
	}
	if track.Samples[2] != -0.5 {
		t.Errorf("Samples[2] = %f, want -0.5", track.Samples[2])
	}
}

func TestDecodeWAVFile_StereoKeepsFirstChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	// Interleaved L/R: left channel is 100, 300; right is 200, 400.
	writeTestWAV(t, path, []int{100, 200, 300, 400}, 2)

	track, err := DecodeWAVFile(path)
	if err != nil {
		t.Fatalf("DecodeWAVFile() error = %v", err)
	}

	if len(track.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(track.Samples))
	}
	if track.Samples[0] != 100.0/32768 || track.Samples[1] != 300.0/32768 {
		t.Errorf("samples = %v, want first channel only", track.Samples)
	}
}

func TestDecodeWAVFile_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	if err := os.WriteFile(path, []byte("definitely not audio"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := DecodeWAVFile(path)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("error = %v, want ErrDecode", err)
	}
}

func TestDecodeWAVFile_Missing(t *testing.T) {
	_, err := DecodeWAVFile(filepath.Join(t.TempDir(), "nope.wav"))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("error = %v, want ErrDecode", err)
	}
}
