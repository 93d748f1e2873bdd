// Package media wraps ffprobe, ffmpeg and fpcalc, and writes tags into
// finished audio files.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/command"
)

const (
	TimeoutProbe   = 10 * time.Second
	TimeoutConvert = 120 * time.Second
	TimeoutFpcalc  = 30 * time.Second
)

// Binaries names the external tools. Empty fields fall back to PATH lookups.
type Binaries struct {
	FFmpeg  string
	FFprobe string
	Fpcalc  string
}

func (b Binaries) withDefaults() Binaries {
	if b.FFmpeg == "" {
		b.FFmpeg = "ffmpeg"
	}
	if b.FFprobe == "" {
		b.FFprobe = "ffprobe"
	}
	if b.Fpcalc == "" {
		b.Fpcalc = "fpcalc"
	}
	return b
}

// Tools runs the audio tooling through a command.Runner.
type Tools struct {
	bin    Binaries
	runner command.Runner
	log    zerolog.Logger
}

// New creates Tools.
func New(bin Binaries, runner command.Runner, log zerolog.Logger) *Tools {
	return &Tools{bin: bin.withDefaults(), runner: runner, log: log.With().Str("component", "media").Logger()}
}

// SourceFormat describes the audio before any conversion.
type SourceFormat struct {
	Codec   string
	Bitrate int
}

// Quality is a probed file's display label and the bitrate used by the
// quality gate. Genuinely lossless files report a zero bitrate.
type Quality struct {
	Codec   string
	Label   string
	Bitrate int
}

// Source returns q as the pre-conversion format of a later conversion.
func (q Quality) Source() *SourceFormat {
	return &SourceFormat{Codec: q.Codec, Bitrate: q.Bitrate}
}

var losslessCodecs = map[string]bool{
	"FLAC": true, "ALAC": true, "WAV": true, "PCM_S16LE": true, "PCM_S24LE": true,
}

type probeStream struct {
	CodecName        string `json:"codec_name"`
	BitRate          string `json:"bit_rate"`
	SampleRate       string `json:"sample_rate"`
	BitsPerRawSample string `json:"bits_per_raw_sample"`
}

// Probe reads the first audio stream of path. src, when non-nil, is the
// format that was downloaded before conversion.
func (t *Tools) Probe(ctx context.Context, path string, src *SourceFormat) (Quality, error) {
	res, err := t.runner.Run(ctx, command.Cmd{
		Name: t.bin.FFprobe,
		Args: []string{
			"-v", "quiet", "-select_streams", "a:0",
			"-show_entries", "stream=codec_name,bit_rate,sample_rate,bits_per_raw_sample",
			"-of", "json", path,
		},
		Timeout: TimeoutProbe,
	})
	if err != nil {
		return Quality{}, errors.Wrap(err, "ffprobe")
	}
	var out struct {
		Streams []probeStream `json:"streams"`
	}
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return Quality{}, errors.Wrap(err, "parse ffprobe output")
	}
	if len(out.Streams) == 0 {
		return Quality{}, errors.New("no audio stream")
	}
	return qualityOf(out.Streams[0], src), nil
}

func qualityOf(s probeStream, src *SourceFormat) Quality {
	codec := strings.ToUpper(s.CodecName)
	sampleRate, _ := strconv.Atoi(s.SampleRate)
	bitRate, _ := strconv.Atoi(s.BitRate)
	bitDepth, _ := strconv.Atoi(s.BitsPerRawSample)
	kbps := bitRate / 1000

	// A file transcoded from a lossy source is rated by that source.
	if src != nil && src.Codec != "" && !losslessCodecs[strings.ToUpper(src.Codec)] &&
		!strings.EqualFold(src.Codec, codec) && (codec == "FLAC" || src.Bitrate > 0) {
		label := codec + " (from " + strings.ToUpper(src.Codec)
		if src.Bitrate > 0 {
			label += fmt.Sprintf(" %dkbps", src.Bitrate)
		}
		return Quality{Codec: codec, Label: label + ")", Bitrate: src.Bitrate}
	}

	if codec == "FLAC" {
		parts := []string{"FLAC"}
		if sampleRate > 0 {
			khz := strconv.FormatFloat(float64(sampleRate)/1000, 'f', 1, 64)
			parts = append(parts, strings.TrimSuffix(khz, ".0")+"kHz")
		}
		if bitDepth > 0 {
			parts = append(parts, fmt.Sprintf("%dbit", bitDepth))
		}
		return Quality{Codec: codec, Label: strings.Join(parts, " ")}
	}

	label := codec
	if kbps > 0 {
		label = strings.TrimSpace(fmt.Sprintf("%s %dkbps", codec, kbps))
	}
	return Quality{Codec: codec, Label: label, Bitrate: kbps}
}

// TargetExt maps an audio_format setting to a file extension.
func TargetExt(format string) string {
	if format == "opus" {
		return ".opus"
	}
	return ".flac"
}

// Convert transcodes src into dst with the codec audio_format asks for.
// src is removed on success and left untouched on failure.
func (t *Tools) Convert(ctx context.Context, src, dst, format string) error {
	codec := "flac"
	if format == "opus" {
		codec = "libopus"
	}
	args := []string{"-y", "-i", src, "-c:a", codec}
	if codec == "libopus" {
		args = append(args, "-b:a", "320k")
	}
	args = append(args, dst)

	if _, err := t.runner.Run(ctx, command.Cmd{Name: t.bin.FFmpeg, Args: args, Timeout: TimeoutConvert}); err != nil {
		os.Remove(dst)
		return errors.Wrap(err, "convert")
	}
	if src != dst {
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			t.log.Warn().Err(err).Str("file", src).Msg("could not remove pre-conversion file")
		}
	}
	return nil
}

// Fingerprint runs fpcalc. ok is false when fpcalc is missing, fails, or the
// clip is too short to fingerprint.
func (t *Tools) Fingerprint(ctx context.Context, path string) (duration int, fingerprint string, ok bool) {
	res, err := t.runner.Run(ctx, command.Cmd{Name: t.bin.Fpcalc, Args: []string{"-json", path}, Timeout: TimeoutFpcalc})
	if err != nil {
		t.log.Debug().Err(err).Msg("fpcalc unavailable")
		return 0, "", false
	}
	var out struct {
		Duration    float64 `json:"duration"`
		Fingerprint string  `json:"fingerprint"`
	}
	if json.Unmarshal(res.Stdout, &out) != nil || out.Fingerprint == "" || out.Duration < 1 {
		return 0, "", false
	}
	return int(out.Duration), out.Fingerprint, true
}

// formatComments reads container-level comment tags for branding checks.
func (t *Tools) formatComments(ctx context.Context, path string) []string {
	res, err := t.runner.Run(ctx, command.Cmd{
		Name:    t.bin.FFprobe,
		Args:    []string{"-v", "quiet", "-show_entries", "format_tags=comment,description", "-of", "json", path},
		Timeout: TimeoutProbe,
	})
	if err != nil {
		return nil
	}
	var out struct {
		Format struct {
			Tags map[string]string `json:"tags"`
		} `json:"format"`
	}
	if json.Unmarshal(res.Stdout, &out) != nil {
		return nil
	}
	var comments []string
	for k, v := range out.Format.Tags {
		if strings.EqualFold(k, "comment") || strings.EqualFold(k, "description") {
			comments = append(comments, v)
		}
	}
	return comments
}

// remux rewrites container tags with ffmpeg, copying streams unchanged.
func (t *Tools) remux(ctx context.Context, path string, tags Tags) error {
	ext := filepath.Ext(path)
	tmp := strings.TrimSuffix(path, ext) + ".tagging" + ext

	args := []string{"-y", "-i", path, "-map", "0", "-c", "copy",
		"-metadata", "artist=" + tags.Artist,
		"-metadata", "title=" + tags.Title,
	}
	if tags.Album != "" {
		args = append(args, "-metadata", "album="+tags.Album)
	}
	if tags.Year != "" {
		args = append(args, "-metadata", "date="+tags.Year)
	}
	for _, c := range t.formatComments(ctx, path) {
		if IsSourceBranding(c) {
			args = append(args, "-metadata", "comment=", "-metadata", "description=")
			break
		}
	}
	args = append(args, tmp)

	if _, err := t.runner.Run(ctx, command.Cmd{Name: t.bin.FFmpeg, Args: args, Timeout: TimeoutConvert}); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "remux tags")
	}
	return errors.Wrap(os.Rename(tmp, path), "replace tagged file")
}
