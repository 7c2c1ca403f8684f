package main

import (
	"fmt"
	"time"
)

func formatTimestamp(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return "never"
	}
	return ts.Local().Format("2006-01-02 15:04")
}

func formatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatProgress(offsetSeconds, runtimeSeconds int64) string {
	if runtimeSeconds <= 0 {
		return formatClock(offsetSeconds)
	}
	return formatClock(offsetSeconds) + " / " + formatClock(runtimeSeconds)
}
