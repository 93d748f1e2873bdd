package backoff

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const httpOnlyPrefix = "#HttpOnly_"

var authCookieNames = map[string]struct{}{
	"SID": {}, "HSID": {}, "SSID": {}, "APISID": {}, "SAPISID": {},
	"__Secure-1PSID": {}, "__Secure-3PSID": {},
	"__Secure-1PAPISID": {}, "__Secure-3PAPISID": {},
	"__Secure-1PSIDTS": {}, "__Secure-3PSIDTS": {},
	"__Secure-1PSIDCC": {}, "__Secure-3PSIDCC": {},
	"LOGIN_INFO": {},
}

// ValidCookies reports whether text holds at least one Netscape cookie entry.
func ValidCookies(text string) bool {
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") && !strings.HasPrefix(line, httpOnlyPrefix) {
			continue
		}
		if strings.Count(line, "\t") >= 6 {
			return true
		}
	}
	return false
}

// CookieExpiry returns the soonest expiry among auth cookies. ok is false
// when no auth cookie carries a fixed expiry.
func CookieExpiry(text string) (expiry time.Time, ok bool) {
	var soonest int64
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimPrefix(line, httpOnlyPrefix)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}
		if _, auth := authCookieNames[parts[5]]; !auth {
			continue
		}
		exp, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil || exp <= 0 {
			continue
		}
		if soonest == 0 || exp < soonest {
			soonest = exp
		}
	}
	if soonest == 0 {
		return time.Time{}, false
	}
	return time.Unix(soonest, 0), true
}

// CookiesExpired reports whether every auth cookie in text has expired at now.
func CookiesExpired(text string, now time.Time) bool {
	exp, ok := CookieExpiry(text)
	return ok && !now.Before(exp)
}

// SyncCookieFile mirrors the stored cookie text to path for yt-dlp. Invalid
// or empty text removes the file.
func SyncCookieFile(path, text string) error {
	if strings.TrimSpace(text) == "" || !ValidCookies(text) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove cookie file")
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create cookie dir")
	}
	return errors.Wrap(os.WriteFile(path, []byte(text), 0o600), "write cookie file")
}

// CookieFileUsable reports whether path exists and is non-empty.
func CookieFileUsable(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Size() > 0
}
