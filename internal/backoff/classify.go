package backoff

import (
	"context"
	"errors"
	"strings"
)

// ErrTimeout marks an attempt that ran out of time. Runners wrap it so the
// controller can tell a hung download from a rejected one.
var ErrTimeout = errors.New("attempt timed out")

// IsForbidden reports a 403-class failure from yt-dlp output.
func IsForbidden(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "403") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "sign in to confirm")
}

// IsAuthSuspect reports a failure that stale or flagged cookies could cause.
func IsAuthSuspect(msg string) bool {
	lower := strings.ToLower(msg)
	return IsForbidden(msg) ||
		strings.Contains(lower, "downloaded file is empty") ||
		strings.Contains(lower, "http error 403")
}

// IsTimeout reports whether err came from an attempt deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsPermissionRace reports yt-dlp failing to rename its own .temp. file.
func IsPermissionRace(msg string) bool {
	return strings.Contains(msg, "Permission denied") && strings.Contains(msg, ".temp.")
}
