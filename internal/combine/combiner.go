package combine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"shuttle/internal/config"
	"shuttle/internal/exporterr"
	"shuttle/internal/logging"
)

// Chunk is one rendered chunk file handed to the combiner. OK mirrors the
// render outcome; failed chunks are filtered out before combining.
type Chunk struct {
	Index int
	Path  string
	OK    bool
}

// Combiner merges chunk files into the final output.
type Combiner struct {
	cfg        config.Transcoder
	stagingDir string
	logger     *slog.Logger
	runner     Runner
}

// New returns a Combiner invoking the configured transcoder binary.
func New(cfg config.Transcoder, stagingDir string, logger *slog.Logger) *Combiner {
	return NewWithRunner(cfg, stagingDir, logger, execRunner{})
}

// NewWithRunner returns a Combiner with a caller-supplied transcoder runner.
func NewWithRunner(cfg config.Transcoder, stagingDir string, logger *slog.Logger, runner Runner) *Combiner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Combiner{
		cfg:        cfg,
		stagingDir: stagingDir,
		logger:     logging.WithComponent(logger, "combiner"),
		runner:     runner,
	}
}

// Combine filters chunks to successful ones, sorts them by index, and
// concatenates them into outputPath. The chunk files and the transient list
// file are deleted before Combine returns, success or not.
func (c *Combiner) Combine(ctx context.Context, chunks []Chunk, outputPath string) error {
	ordered := make([]Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.OK && chunk.Path != "" {
			ordered = append(ordered, chunk)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	defer c.removeChunks(ordered)

	if len(ordered) == 0 {
		return exporterr.Wrap(exporterr.ErrCombine, "combiner", "combine", "no successful chunks to combine", nil)
	}

	totalInput, err := c.sumSizes(ordered)
	if err != nil {
		return err
	}

	listPath, err := c.writeConcatList(ordered)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	c.logger.Info("combining chunks",
		logging.Int(logging.FieldChunkCount, len(ordered)),
		logging.String("output", outputPath),
	)

	// Stream-copy can fail outright or silently produce a truncated file when
	// chunk container parameters disagree. One full re-encode is the only
	// recovery attempt either way.
	copyErr := c.runConcat(ctx, listPath, outputPath, false)
	switch {
	case copyErr == nil && c.outputReasonable(outputPath, totalInput):
		return nil
	case copyErr != nil && exporterr.IsCancellation(copyErr):
		os.Remove(outputPath)
		return copyErr
	case copyErr != nil:
		c.logger.Warn("stream-copy concat failed, retrying with re-encode",
			logging.String("output", outputPath),
			logging.Error(copyErr),
		)
	default:
		c.logger.Warn("combined output failed size check, retrying with re-encode",
			logging.String("output", outputPath),
		)
	}
	os.Remove(outputPath)

	if err := c.runConcat(ctx, listPath, outputPath, true); err != nil {
		os.Remove(outputPath)
		return err
	}
	if !c.outputReasonable(outputPath, totalInput) {
		os.Remove(outputPath)
		return exporterr.Wrap(exporterr.ErrCombine, "combiner", "combine",
			"combined output is undersized even after re-encode", nil)
	}
	return nil
}

func (c *Combiner) sumSizes(chunks []Chunk) (int64, error) {
	var total int64
	for _, chunk := range chunks {
		info, err := os.Stat(chunk.Path)
		if err != nil {
			return 0, exporterr.Wrap(exporterr.ErrCombine, "combiner", "stat",
				fmt.Sprintf("chunk %d file missing", chunk.Index), err)
		}
		total += info.Size()
	}
	return total, nil
}

func (c *Combiner) writeConcatList(chunks []Chunk) (string, error) {
	var sb strings.Builder
	for _, chunk := range chunks {
		line, err := concatListLine(chunk.Path)
		if err != nil {
			return "", exporterr.Wrap(exporterr.ErrCombine, "combiner", "write_list",
				fmt.Sprintf("chunk %d path is not representable in a concat list", chunk.Index), err)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	file, err := os.CreateTemp(c.stagingDir, "concat-*.txt")
	if err != nil {
		return "", exporterr.Wrap(exporterr.ErrCombine, "combiner", "write_list", "create concat list", err)
	}
	if _, err := file.WriteString(sb.String()); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", exporterr.Wrap(exporterr.ErrCombine, "combiner", "write_list", "write concat list", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", exporterr.Wrap(exporterr.ErrCombine, "combiner", "write_list", "close concat list", err)
	}
	return file.Name(), nil
}

// concatListLine renders one concat demuxer entry. Control characters cannot
// be neutralized inside the list syntax and are rejected outright; quotes,
// backslashes, and percent signs are escaped.
func concatListLine(path string) (string, error) {
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("path contains control character %q", r)
		}
	}
	escaped := strings.ReplaceAll(path, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `%`, `\%`)
	escaped = strings.ReplaceAll(escaped, `'`, `'\''`)
	return "file '" + escaped + "'", nil
}

func (c *Combiner) runConcat(ctx context.Context, listPath, outputPath string, reencode bool) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
	}
	if reencode {
		args = append(args,
			"-c:v", c.cfg.FallbackCodec,
			"-crf", strconv.Itoa(c.cfg.FallbackCRF),
			"-preset", c.cfg.FallbackPreset,
			"-c:a", c.cfg.FallbackAudio,
			"-b:a", c.cfg.FallbackBitrate,
		)
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, "-y", outputPath)

	output, err := c.runner.Run(ctx, c.cfg.Binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return exporterr.Wrap(exporterr.ErrCancelled, "combiner", "transcode", "combine cancelled", ctx.Err())
		}
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return exporterr.Wrap(exporterr.ErrCombine, "combiner", "transcode", "transcoder failed", err)
	}
	return nil
}

// outputReasonable applies the size sanity check: the combined file must be
// at least max(fixed floor, small fraction of the summed chunk sizes).
func (c *Combiner) outputReasonable(outputPath string, totalInput int64) bool {
	info, err := os.Stat(outputPath)
	if err != nil {
		return false
	}
	minReasonable := c.cfg.MinOutputBytes
	if fraction := int64(float64(totalInput) * c.cfg.MinOutputFraction); fraction > minReasonable {
		minReasonable = fraction
	}
	return info.Size() >= minReasonable
}

func (c *Combiner) removeChunks(chunks []Chunk) {
	for _, chunk := range chunks {
		if chunk.Path == "" {
			continue
		}
		if err := os.Remove(chunk.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove chunk file",
				logging.Int(logging.FieldChunkIndex, chunk.Index),
				logging.Error(err),
			)
		}
	}
}
