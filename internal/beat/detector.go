// Package beat extracts rhythmic beat timestamps, tempo and a display
// waveform from decoded audio samples using amplitude-threshold peak
// detection.
package beat

import "math"

const (
	// WaveformBuckets is the fixed number of downsampled amplitude
	// buckets computed for waveform display.
	WaveformBuckets = 500

	windowSeconds   = 0.1 // non-overlapping analysis window
	energyThreshold = 0.7 // fraction of global average energy
	minBeatSpacing  = 0.3 // seconds between accepted beats
	defaultTempo    = 120
)

// Track is an immutable decoded audio input: mono samples in [-1, 1]
// plus the sample rate they were captured at.
type Track struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the track length in seconds.
func (t Track) Duration() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(len(t.Samples)) / float64(t.SampleRate)
}

// Analysis holds everything derived from a track. Beats are strictly
// increasing with at least minBeatSpacing between adjacent entries.
type Analysis struct {
	Beats    []float64 `json:"beats"`
	Tempo    int       `json:"tempo"`
	Waveform []float64 `json:"waveform"`
	Mood     string    `json:"mood"`
}

// Detect runs the single-pass amplitude-threshold algorithm over the
// track. It is deterministic: identical samples and rate always produce
// identical output.
func Detect(track Track) Analysis {
	samples := track.Samples

	waveform := computeWaveform(samples)

	var totalEnergy float64
	for _, s := range samples {
		totalEnergy += math.Abs(s)
	}
	avgEnergy := 0.0
	if len(samples) > 0 {
		avgEnergy = totalEnergy / float64(len(samples))
	}

	beats := []float64{}
	windowSize := int(float64(track.SampleRate) * windowSeconds)
	if windowSize > 0 {
		for i := windowSize; i < len(samples)-windowSize; i += windowSize {
			var windowEnergy float64
			for j := i; j < i+windowSize; j++ {
				windowEnergy += math.Abs(samples[j])
			}
			windowEnergy /= float64(windowSize)

			if windowEnergy > avgEnergy*energyThreshold {
				t := float64(i) / float64(track.SampleRate)
				if len(beats) == 0 || t-beats[len(beats)-1] > minBeatSpacing {
					beats = append(beats, t)
				}
			}
		}
	}

	// Mood tracks the measured tempo only; with fewer than two beats the
	// tempo is a default, not a measurement, and the mood stays calm.
	tempo := defaultTempo
	mood := "emotional"
	if len(beats) > 1 {
		var intervalSum float64
		for i := 1; i < len(beats); i++ {
			intervalSum += beats[i] - beats[i-1]
		}
		avgInterval := intervalSum / float64(len(beats)-1)
		tempo = int(math.Round(60 / avgInterval))
		mood = Mood(tempo)
	}

	return Analysis{
		Beats:    beats,
		Tempo:    tempo,
		Waveform: waveform,
		Mood:     mood,
	}
}

// Mood classifies a tempo for downstream text/style defaults.
func Mood(tempo int) string {
	if tempo > 110 {
		return "upbeat"
	}
	return "emotional"
}

func computeWaveform(samples []float64) []float64 {
	waveform := make([]float64, WaveformBuckets)
	blockSize := len(samples) / WaveformBuckets
	if blockSize == 0 {
		// Buffer shorter than the bucket count; leave the display flat.
		return waveform
	}
	for i := 0; i < WaveformBuckets; i++ {
		start := i * blockSize
		var sum float64
		for j := start; j < start+blockSize && j < len(samples); j++ {
			sum += math.Abs(samples[j])
		}
		waveform[i] = sum / float64(blockSize)
	}
	return waveform
}
