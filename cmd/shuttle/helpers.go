package main

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"shuttle/internal/ipc"
)

var numberPrinter = message.NewPrinter(language.English)

func formatFrames(n int) string {
	if n <= 0 {
		return "-"
	}
	return numberPrinter.Sprintf("%d", n)
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sessionProgress(sess *ipc.Session) string {
	progress := formatPercent(sess.ProgressPercent)
	if sess.ProgressStage != "" {
		progress += " " + sess.ProgressStage
	}
	return progress
}

func sessionError(sess *ipc.Session) string {
	if sess.ErrorMessage == "" {
		return ""
	}
	if sess.ErrorKind != "" {
		return fmt.Sprintf("%s: %s", sess.ErrorKind, sess.ErrorMessage)
	}
	return sess.ErrorMessage
}

func phaseKind(phase string) statusKind {
	switch phase {
	case "succeeded":
		return statusOK
	case "failed":
		return statusError
	case "cancelled":
		return statusWarn
	default:
		return statusInfo
	}
}

func truncatePath(path string, max int) string {
	if len(path) <= max {
		return path
	}
	return "…" + path[len(path)-max+1:]
}

func joinNonEmpty(parts []string, sep string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}
