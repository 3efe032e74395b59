package beat

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// ErrDecode indicates the audio buffer could not be decoded. Callers
// treat this as recoverable: the pipeline falls back to even clip
// distribution when beat data is unavailable.
var ErrDecode = errors.New("audio decode failed")

// DecodeWAVFile reads a PCM WAV file into a mono Track. Multi-channel
// input keeps only the first channel.
func DecodeWAVFile(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return Track{}, fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Track{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return Track{}, fmt.Errorf("%w: empty sample buffer", ErrDecode)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	maxValue := math.Pow(2, float64(decoder.BitDepth-1))
	samples := make([]float64, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, float64(buf.Data[i])/maxValue)
	}

	return Track{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
	}, nil
}
