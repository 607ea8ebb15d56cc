package realtime

import (
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
)

func TestDeviceFingerprint(t *testing.T) {
	tests := []struct {
		name string
		env  Environment
		want string
	}{
		{
			name: "desktop browser",
			env: Environment{
				UserAgent: "Mozilla/5.0 (X11; Linux x86_64)", Language: "en-US",
				ScreenWidth: 1920, ScreenHeight: 1080, TimezoneOffset: -330, Platform: "Linux x86_64",
				CookiesEnabled: true, IndexedDB: true, LocalStorage: true, SessionStorage: true,
			},
			want: "device_3534903c",
		},
		{
			name: "terminal",
			env:  testEnv,
			want: testDeviceID,
		},
		{
			name: "negative hash",
			env: Environment{
				UserAgent: "Mozilla/5.0 (Macintosh)", Language: "fr-FR",
				ScreenWidth: 1440, ScreenHeight: 900, TimezoneOffset: -60, Platform: "MacIntel",
				CookiesEnabled: true, IndexedDB: true, LocalStorage: true, SessionStorage: false,
			},
			want: "device_14cb75c1",
		},
		{
			name: "non-ascii user agent",
			env: Environment{
				UserAgent: "Bot ✓ 日本", Language: "ja-JP",
				ScreenWidth: 390, ScreenHeight: 844, TimezoneOffset: -540, Platform: "iPhone",
				SessionStorage: true,
			},
			want: "device_71ca4187",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeviceFingerprint(tt.env))
			assert.Equal(t, tt.want, DeviceFingerprint(tt.env))
		})
	}
}

func TestDeviceFingerprint_SensitiveToEveryField(t *testing.T) {
	base := DeviceFingerprint(testEnv)

	changed := testEnv
	changed.SessionStorage = false
	assert.NotEqual(t, base, DeviceFingerprint(changed))

	changed = testEnv
	changed.TimezoneOffset = 60
	assert.NotEqual(t, base, DeviceFingerprint(changed))
}

func TestRollingHash(t *testing.T) {
	assert.Equal(t, int32(0), rollingHash(""))
	assert.Equal(t, int32(97), rollingHash("a"))
	assert.Equal(t, int32(3105), rollingHash("ab"))
	assert.Equal(t, int32(8364), rollingHash("€"))
}

func TestTruncateUTF16(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF16("abcdef", 3))
	assert.Equal(t, "abc", truncateUTF16("abc", 100))
	assert.Equal(t, "日本", truncateUTF16("日本語", 2))
	assert.Equal(t, "", truncateUTF16("abc", 0))

	// Astral characters count as two units.
	assert.Equal(t, "a😀", truncateUTF16("a😀b", 3))
	assert.Equal(t, "a\uFFFD", truncateUTF16("a😀b", 2))

	ua := strings.Repeat("x", 98) + "😀😀"
	got := truncateUTF16(ua, 100)
	assert.Equal(t, strings.Repeat("x", 98)+"😀", got)
	assert.Len(t, utf16.Encode([]rune(got)), 100)
}

func TestDetectLanguage(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "en_IN.UTF-8")
	assert.Equal(t, "en-IN", detectLanguage())

	t.Setenv("LC_ALL", "C")
	assert.Equal(t, "en-IN", detectLanguage())

	t.Setenv("LC_MESSAGES", "hi_IN@latin")
	assert.Equal(t, "hi-IN", detectLanguage())

	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "")
	assert.Equal(t, "en-US", detectLanguage())
}

func TestDetectEnvironment(t *testing.T) {
	env := DetectEnvironment("registerkaro-chat/1.0", true, false)
	assert.Equal(t, "registerkaro-chat/1.0", env.UserAgent)
	assert.True(t, env.CookiesEnabled)
	assert.True(t, env.LocalStorage)
	assert.False(t, env.SessionStorage)
	assert.Positive(t, env.ScreenWidth)
	assert.Positive(t, env.ScreenHeight)
	assert.NotEmpty(t, env.Platform)
}
