package clip

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/nfnt/resize"
	"golang.org/x/sync/errgroup"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	analysisWidth  = 320
	analysisHeight = 180

	// NeutralScore is assigned when a clip's frame cannot be analyzed.
	NeutralScore = 0.5

	scoreConcurrency = 4
)

// ErrFrameDecode indicates the representative frame could not be
// extracted or decoded. Scoring failures are recoverable: the pipeline
// keeps the clip with NeutralScore.
var ErrFrameDecode = errors.New("frame decode failed")

// FrameExtractor pulls a single frame out of a video file at a time
// offset. The transcoder package provides the production implementation.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, sourcePath string, offset float64, outPath string) error
}

// Analysis holds the per-frame statistics behind a clip's score, each
// normalized to [0, 1].
type Analysis struct {
	Score        float64 `json:"score"`
	Brightness   float64 `json:"brightness"`
	Contrast     float64 `json:"contrast"`
	Colorfulness float64 `json:"colorfulness"`
	HasMotion    bool    `json:"has_motion"`
}

// Scorer computes quality scores from a clip's representative frame:
// the middle frame for videos, the image itself for stills.
type Scorer struct {
	extractor FrameExtractor
	logger    *slog.Logger
}

func NewScorer(extractor FrameExtractor, logger *slog.Logger) *Scorer {
	return &Scorer{extractor: extractor, logger: logger}
}

// Score analyzes one clip and writes the result onto it.
func (s *Scorer) Score(ctx context.Context, c *Clip) (Analysis, error) {
	framePath := c.SourcePath
	if c.Kind == KindVideo {
		framePath = filepath.Join(os.TempDir(), fmt.Sprintf("reelcut_frame_%s_%d.jpg", c.ID, time.Now().UnixNano()))
		defer os.Remove(framePath)

		offset := c.NativeDuration / 2
		if err := s.extractor.ExtractFrame(ctx, c.SourcePath, offset, framePath); err != nil {
			return Analysis{}, fmt.Errorf("%w: %v", ErrFrameDecode, err)
		}
	}

	img, err := loadFrame(framePath)
	if err != nil {
		return Analysis{}, err
	}

	analysis := analyzeFrame(img, c.NativeDuration > 1)
	c.Score = analysis.Score
	c.Scored = true

	if s.logger != nil {
		s.logger.Debug("clip scored",
			"clip_id", c.ID,
			"score", analysis.Score,
			"brightness", analysis.Brightness,
			"contrast", analysis.Contrast,
			"colorfulness", analysis.Colorfulness,
		)
	}

	return analysis, nil
}

// Result pairs a clip with its scoring outcome.
type Result struct {
	Clip     *Clip
	Analysis Analysis
	Err      error
}

// ScoreAll scores clips concurrently. Individual failures are reported
// in the results, never as an overall error; the caller decides the
// recovery policy.
func (s *Scorer) ScoreAll(ctx context.Context, clips []*Clip) []Result {
	results := make([]Result, len(clips))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoreConcurrency)

	for i, c := range clips {
		i, c := i, c
		g.Go(func() error {
			analysis, err := s.Score(gctx, c)
			results[i] = Result{Clip: c, Analysis: analysis, Err: err}
			return nil
		})
	}

	g.Wait()
	return results
}

func loadFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameDecode, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameDecode, err)
	}
	return img, nil
}

// analyzeFrame computes luminance and color statistics over the frame
// downscaled to the fixed analysis resolution.
func analyzeFrame(img image.Image, hasMotion bool) Analysis {
	small := resize.Resize(analysisWidth, analysisHeight, img, resize.Bilinear)
	bounds := small.Bounds()
	pixels := float64(bounds.Dx() * bounds.Dy())

	var lumSum, rSum, gSum, bSum float64
	minLum, maxLum := 255.0, 0.0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := small.At(x, y).RGBA()
			r := float64(r16 >> 8)
			g := float64(g16 >> 8)
			b := float64(b16 >> 8)

			rSum += r
			gSum += g
			bSum += b

			lum := 0.299*r + 0.587*g + 0.114*b
			lumSum += lum
			minLum = math.Min(minLum, lum)
			maxLum = math.Max(maxLum, lum)
		}
	}

	rMean := rSum / pixels
	gMean := gSum / pixels
	bMean := bSum / pixels

	var colorVariance float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := small.At(x, y).RGBA()
			colorVariance += math.Pow(float64(r16>>8)-rMean, 2)
			colorVariance += math.Pow(float64(g16>>8)-gMean, 2)
			colorVariance += math.Pow(float64(b16>>8)-bMean, 2)
		}
	}

	brightness := lumSum / pixels / 255
	contrast := (maxLum - minLum) / 255
	colorfulness := math.Sqrt(colorVariance/(pixels*3)) / 255

	motion := 0.0
	if hasMotion {
		motion = 1.0
	}

	score := 0.3*brightness + 0.3*contrast + 0.3*colorfulness + 0.1*motion

	return Analysis{
		Score:        score,
		Brightness:   brightness,
		Contrast:     contrast,
		Colorfulness: colorfulness,
		HasMotion:    hasMotion,
	}
}
