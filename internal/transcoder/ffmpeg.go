package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/reelcut/reelcut-server/internal/clip"
)

const (
	defaultProbeTimeout   = 30 * time.Second
	defaultExtractTimeout = 2 * time.Minute
	defaultRenderTimeout  = 15 * time.Minute

	// stderrTailLimit bounds how much ffmpeg stderr we retain for error
	// reporting.
	stderrTailLimit = 4 * 1024

	// audioSampleRate matches what the beat detector expects.
	audioSampleRate = 44100
)

// qualityPreset maps a quality tier to x264 encode settings.
type qualityPreset struct {
	crf    int
	preset string
}

var qualityPresets = map[string]qualityPreset{
	"draft": {crf: 30, preset: "ultrafast"},
	"high":  {crf: 23, preset: "medium"},
	"ultra": {crf: 18, preset: "slow"},
}

// FFmpeg shells out to the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath     string
	ffprobePath    string
	probeTimeout   time.Duration
	extractTimeout time.Duration
	renderTimeout  time.Duration
	logger         *slog.Logger
}

// NewFFmpeg resolves the binaries and returns a ready transcoder. Paths
// left empty in cfg are looked up on PATH.
func NewFFmpeg(cfg Config, logger *slog.Logger) (*FFmpeg, error) {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	resolved, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("locating ffmpeg: %w", err)
	}

	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	resolvedProbe, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("locating ffprobe: %w", err)
	}

	f := &FFmpeg{
		ffmpegPath:     resolved,
		ffprobePath:    resolvedProbe,
		probeTimeout:   cfg.ProbeTimeout,
		extractTimeout: cfg.ExtractTimeout,
		renderTimeout:  cfg.RenderTimeout,
		logger:         logger,
	}
	if f.probeTimeout <= 0 {
		f.probeTimeout = defaultProbeTimeout
	}
	if f.extractTimeout <= 0 {
		f.extractTimeout = defaultExtractTimeout
	}
	if f.renderTimeout <= 0 {
		f.renderTimeout = defaultRenderTimeout
	}
	return f, nil
}

// probeResult mirrors the subset of ffprobe's JSON output we read.
type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a media file via ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	out, err := f.run(ctx, "probe", f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}

	return parseProbeOutput(out)
}

func parseProbeOutput(out []byte) (*ProbeResult, error) {
	var parsed probeResult
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, &Error{Op: "probe", Detail: "unparseable ffprobe output: " + err.Error()}
	}

	result := &ProbeResult{}
	if parsed.Format.Duration != "" {
		d, err := strconv.ParseFloat(parsed.Format.Duration, 64)
		if err == nil {
			result.Duration = d
		}
	}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			if result.Width == 0 {
				result.Width = s.Width
				result.Height = s.Height
			}
		case "audio":
			result.HasAudio = true
		}
	}
	return result, nil
}

// ExtractFrame writes a single frame at offset seconds to outPath.
// Satisfies clip.FrameExtractor.
func (f *FFmpeg) ExtractFrame(ctx context.Context, sourcePath string, offset float64, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.extractTimeout)
	defer cancel()

	_, err := f.run(ctx, "extract_frame", f.ffmpegPath,
		"-y",
		"-ss", formatFloat(offset),
		"-i", sourcePath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	return err
}

// ExtractAudio decodes the audio track to a mono 16-bit 44.1 kHz WAV,
// the format the beat detector consumes.
func (f *FFmpeg) ExtractAudio(ctx context.Context, sourcePath, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.extractTimeout)
	defer cancel()

	_, err := f.run(ctx, "extract_audio", f.ffmpegPath,
		"-y",
		"-i", sourcePath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(audioSampleRate),
		"-ac", "1",
		outPath,
	)
	return err
}

// Render assembles the reel: each entry is normalized to an intermediate
// segment, the segments are concatenated, and the music track is mixed in.
func (f *FFmpeg) Render(ctx context.Context, spec RenderSpec, params Params, workDir, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.renderTimeout)
	defer cancel()

	if len(spec.Entries) == 0 {
		return &Error{Op: "render", Detail: "no entries to render"}
	}

	vq, ok := qualityPresets[params.Quality]
	if !ok {
		vq = qualityPresets["high"]
	}

	segments := make([]string, 0, len(spec.Entries))
	for i, entry := range spec.Entries {
		segPath := filepath.Join(workDir, fmt.Sprintf("segment_%03d.mp4", i))
		if err := f.renderSegment(ctx, entry, params, vq, segPath); err != nil {
			return err
		}
		segments = append(segments, segPath)
	}

	concatPath := filepath.Join(workDir, "concat.mp4")
	if err := f.concat(ctx, segments, workDir, concatPath); err != nil {
		return err
	}

	return f.finalize(ctx, concatPath, spec, params, vq, outPath)
}

// renderSegment normalizes one entry: trim, eq filters, portrait
// scale-and-pad, target fps, no audio.
func (f *FFmpeg) renderSegment(ctx context.Context, entry RenderEntry, params Params, vq qualityPreset, outPath string) error {
	args := []string{"-y"}

	duration := segmentDuration(entry)
	if entry.Kind == "video" {
		if entry.TrimStart > 0 {
			args = append(args, "-ss", formatFloat(entry.TrimStart))
		}
		args = append(args, "-i", entry.SourcePath)
	} else {
		args = append(args, "-loop", "1", "-i", entry.SourcePath)
	}
	if duration > 0 {
		args = append(args, "-t", formatFloat(duration))
	}

	args = append(args,
		"-vf", segmentFilter(entry.Filters, params),
		"-r", strconv.Itoa(params.FPS),
		"-an",
		"-c:v", "libx264",
		"-preset", vq.preset,
		"-crf", strconv.Itoa(vq.crf),
		"-pix_fmt", "yuv420p",
		outPath,
	)

	_, err := f.run(ctx, "render_segment", f.ffmpegPath, args...)
	return err
}

// segmentDuration caps a video segment's play length at the trimmed
// content window, so a trimmed tail is never played back into. Images
// always fill the slot.
func segmentDuration(entry RenderEntry) float64 {
	duration := entry.SlotDuration
	if entry.Kind != clip.KindVideo || entry.NativeDuration <= 0 {
		return duration
	}
	content := entry.NativeDuration - entry.TrimStart - entry.TrimEnd
	if content > 0 && content < duration {
		return content
	}
	return duration
}

// concat joins the normalized segments with the concat demuxer. The
// segments share codec parameters so a stream copy is enough.
func (f *FFmpeg) concat(ctx context.Context, segments []string, workDir, outPath string) error {
	listPath := filepath.Join(workDir, "segments.txt")
	var sb strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&sb, "file '%s'\n", s)
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return &Error{Op: "concat", Detail: "writing segment list: " + err.Error()}
	}

	_, err := f.run(ctx, "concat", f.ffmpegPath,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	)
	return err
}

// finalize mixes in the music track (if any) and encodes to the target
// container.
func (f *FFmpeg) finalize(ctx context.Context, videoPath string, spec RenderSpec, params Params, vq qualityPreset, outPath string) error {
	args := []string{"-y", "-i", videoPath}

	hasAudio := spec.AudioPath != ""
	if hasAudio {
		args = append(args, "-i", spec.AudioPath)
	}

	videoCodec, audioCodec := codecsForFormat(params.Format)
	args = append(args, "-c:v", videoCodec)
	if videoCodec == "libx264" {
		args = append(args, "-preset", vq.preset, "-crf", strconv.Itoa(vq.crf))
	} else {
		args = append(args, "-crf", strconv.Itoa(vq.crf), "-b:v", "0")
	}

	if hasAudio {
		volume := spec.AudioVolume
		if volume <= 0 {
			volume = 1
		}
		args = append(args,
			"-filter:a", fmt.Sprintf("volume=%s", formatFloat(volume)),
			"-c:a", audioCodec,
			"-shortest",
		)
	} else {
		args = append(args, "-an")
	}

	args = append(args, outPath)
	_, err := f.run(ctx, "render", f.ffmpegPath, args...)
	return err
}

// run executes one subprocess, retaining a bounded tail of stderr for
// error reporting.
func (f *FFmpeg) run(ctx context.Context, op, bin string, args ...string) ([]byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)

	stderr := &limitedWriter{limit: stderrTailLimit}
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{Op: op, Detail: "timed out"}
		}
		if ctx.Err() == context.Canceled {
			return nil, &Error{Op: op, Detail: "cancelled"}
		}
		detail := stderr.Tail()
		if detail == "" {
			detail = err.Error()
		}
		return nil, &Error{Op: op, Detail: detail}
	}

	if f.logger != nil {
		f.logger.Debug("subprocess finished",
			slog.String("op", op),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return out, nil
}

// segmentFilter builds the -vf chain for one segment: eq color
// adjustments followed by fit-inside scaling and centering pads to the
// portrait canvas.
func segmentFilter(filters clip.Filters, params Params) string {
	parts := make([]string, 0, 3)
	if filters.Brightness != 1 || filters.Contrast != 1 || filters.Saturation != 1 {
		// eq brightness is additive around 0; our knob is multiplicative
		// around 1, so shift it.
		parts = append(parts, fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s",
			formatFloat(filters.Brightness-1),
			formatFloat(filters.Contrast),
			formatFloat(filters.Saturation),
		))
	}
	parts = append(parts,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", params.Width, params.Height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", params.Width, params.Height),
	)
	return strings.Join(parts, ",")
}

func codecsForFormat(format string) (video, audio string) {
	switch format {
	case "webm":
		return "libvpx-vp9", "libopus"
	default: // mp4, mov
		return "libx264", "aac"
	}
}

// formatFloat renders a float without scientific notation or trailing
// zeros, the way ffmpeg's option parser likes it.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// limitedWriter keeps at most limit bytes, discarding the oldest input
// once full so error output retains the final lines.
type limitedWriter struct {
	limit int
	buf   []byte
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *limitedWriter) Tail() string {
	return strings.TrimSpace(string(w.buf))
}
