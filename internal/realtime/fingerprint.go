package realtime

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/term"
)

const deviceIDPrefix = "device_"

// Environment holds the stable client attributes the device fingerprint is
// derived from.
type Environment struct {
	UserAgent    string
	Language     string
	ScreenWidth  int
	ScreenHeight int
	// TimezoneOffset is minutes behind UTC, positive west of Greenwich,
	// matching what browsers report.
	TimezoneOffset int
	Platform       string

	CookiesEnabled bool
	IndexedDB      bool
	LocalStorage   bool
	SessionStorage bool
}

func (e Environment) ScreenSize() string {
	return fmt.Sprintf("%dx%d", e.ScreenWidth, e.ScreenHeight)
}

// DeviceFingerprint hashes the environment into a short device token. It is
// a best-effort, non-cryptographic fingerprint; identical inputs always
// produce the same token, and the backend merges identities on that basis.
func DeviceFingerprint(env Environment) string {
	parts := []string{
		env.UserAgent,
		env.Language,
		env.ScreenSize(),
		strconv.Itoa(env.TimezoneOffset),
		env.Platform,
		strconv.FormatBool(env.CookiesEnabled),
		strconv.FormatBool(env.IndexedDB),
		strconv.FormatBool(env.LocalStorage),
		strconv.FormatBool(env.SessionStorage),
	}
	h := rollingHash(strings.Join(parts, "|"))
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return deviceIDPrefix + strconv.FormatInt(n, 16)
}

// rollingHash is h = h*31 + c over UTF-16 code units, wrapping at 32 bits.
func rollingHash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// DetectEnvironment describes the current terminal host. durable and
// session say whether the matching identity stores are available.
func DetectEnvironment(userAgent string, durable, session bool) Environment {
	w, h := 80, 24
	if tw, th, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		w, h = tw, th
	}
	_, offset := time.Now().Zone()
	return Environment{
		UserAgent:      userAgent,
		Language:       detectLanguage(),
		ScreenWidth:    w,
		ScreenHeight:   h,
		TimezoneOffset: -offset / 60,
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		CookiesEnabled: durable,
		IndexedDB:      false,
		LocalStorage:   durable,
		SessionStorage: session,
	}
}

// detectLanguage turns LANG-style locales (en_US.UTF-8) into BCP 47 tags.
func detectLanguage() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return "en-US"
}

// truncateUTF16 keeps at most n UTF-16 code units of s. A surrogate pair
// split at the boundary leaves U+FFFD in its place.
func truncateUTF16(s string, n int) string {
	if n <= 0 {
		return ""
	}
	units := utf16.Encode([]rune(s))
	if len(units) <= n {
		return s
	}
	return string(utf16.Decode(units[:n]))
}
