package exporterr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPlanning      = errors.New("planning error")
	ErrWorkerSpawn   = errors.New("worker spawn error")
	ErrWorkerTimeout = errors.New("worker timeout")
	ErrRender        = errors.New("render error")
	ErrCombine       = errors.New("combine error")
	ErrCancelled     = errors.New("export cancelled")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrRender
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to its taxonomy name for progress reports and the IPC
// surface. Unrecognized errors report as "render" since the renderer is the
// only collaborator whose failures arrive untagged.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrPlanning):
		return "planning"
	case errors.Is(err, ErrWorkerSpawn):
		return "worker_spawn"
	case errors.Is(err, ErrWorkerTimeout):
		return "worker_timeout"
	case errors.Is(err, ErrCombine):
		return "combine"
	case errors.Is(err, ErrRender):
		return "render"
	default:
		return "render"
	}
}

// Marker maps a taxonomy name back to its sentinel. Results crossing the
// worker process boundary carry only the kind string; this restores the
// marker so errors.Is keeps working on the daemon side.
func Marker(kind string) error {
	switch kind {
	case "cancelled":
		return ErrCancelled
	case "planning":
		return ErrPlanning
	case "worker_spawn":
		return ErrWorkerSpawn
	case "worker_timeout":
		return ErrWorkerTimeout
	case "combine":
		return ErrCombine
	default:
		return ErrRender
	}
}

// IsCancellation reports whether the error represents a user-initiated stop
// rather than a true failure. Callers use this to avoid surfacing cancels as
// error toasts.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "export failure"
	}
	return strings.Join(parts, ": ")
}
