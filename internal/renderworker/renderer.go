package renderworker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"shuttle/internal/config"
	"shuttle/internal/exporterr"
)

var commandContext = exec.CommandContext

// FrameProgress reports frames completed so far within the requested range.
type FrameProgress func(framesDone int)

// RenderRequest asks the renderer for one contiguous frame range.
// EndFrame is exclusive.
type RenderRequest struct {
	SourcePath  string
	OutputPath  string
	StartFrame  int
	EndFrame    int
	FPS         float64
	Width       int
	Height      int
	Concurrency int
	ExtraArgs   []string
}

// Renderer produces pixels. The real implementation shells out to the
// configured renderer binary; tests substitute their own.
type Renderer interface {
	RenderRange(ctx context.Context, req RenderRequest, progress FrameProgress) error
}

// CLIRenderer wraps the external renderer binary. The binary is expected to
// emit one JSON progress line per update on stdout when given
// --progress-json.
type CLIRenderer struct {
	binary    string
	extraArgs []string
}

// NewCLIRenderer constructs a renderer from configuration.
func NewCLIRenderer(cfg config.Renderer) *CLIRenderer {
	return &CLIRenderer{binary: cfg.Binary, extraArgs: cfg.ExtraArgs}
}

// RenderRange launches the renderer for the requested range and streams its
// progress events.
func (r *CLIRenderer) RenderRange(ctx context.Context, req RenderRequest, progress FrameProgress) error {
	args := []string{
		"render",
		"--input", req.SourcePath,
		"--output", req.OutputPath,
		"--start-frame", strconv.Itoa(req.StartFrame),
		"--end-frame", strconv.Itoa(req.EndFrame),
		"--fps", strconv.FormatFloat(req.FPS, 'f', -1, 64),
		"--threads", strconv.Itoa(req.Concurrency),
		"--progress-json",
	}
	args = append(args, r.extraArgs...)
	args = append(args, req.ExtraArgs...)

	cmd := commandContext(ctx, r.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return exporterr.Wrap(exporterr.ErrRender, "renderer", "start", "stdout pipe", err)
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return exporterr.Wrap(exporterr.ErrWorkerSpawn, "renderer", "start", "start renderer", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		var payload struct {
			Frame int `json:"frame"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &payload); err != nil {
			continue
		}
		if progress == nil {
			continue
		}
		done := payload.Frame - req.StartFrame
		if done < 0 {
			done = 0
		}
		if max := req.EndFrame - req.StartFrame; done > max {
			done = max
		}
		progress(done)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return exporterr.Wrap(exporterr.ErrCancelled, "renderer", "render", "render cancelled", ctx.Err())
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return exporterr.Wrap(exporterr.ErrRender, "renderer", "render",
			fmt.Sprintf("renderer failed on frames [%d, %d)", req.StartFrame, req.EndFrame), err)
	}
	return nil
}

// tailBuffer keeps the last window of written bytes so a chatty renderer
// cannot balloon error diagnostics.
type tailBuffer struct {
	buf []byte
}

const tailBufferSize = 4096

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailBufferSize {
		t.buf = t.buf[len(t.buf)-tailBufferSize:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

var _ Renderer = (*CLIRenderer)(nil)
