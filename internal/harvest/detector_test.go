package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectorMatchesDefaultMarkers(t *testing.T) {
	t.Parallel()

	d := NewChallengeDetector()

	pages := []string{
		"Our systems have detected unusual traffic from your computer network.",
		"Please confirm: I'm not a robot",
		"This page checks whether requests are automated queries.",
		"<div class=\"g-recaptcha\">CAPTCHA</div>",
		"We need to verify you're human before continuing.",
	}
	for _, page := range pages {
		require.True(t, d.Detect(page), "page %q should trigger", page)
	}
}

func TestDetectorCaseInsensitive(t *testing.T) {
	t.Parallel()

	d := NewChallengeDetector()
	require.True(t, d.Detect("UNUSUAL TRAFFIC detected"))
	require.True(t, d.Detect("Captcha required"))
}

func TestDetectorIgnoresCleanPages(t *testing.T) {
	t.Parallel()

	d := NewChallengeDetector()
	require.False(t, d.Detect(""))
	require.False(t, d.Detect("<html><body>10 results for your search</body></html>"))
	// Marker substrings must match whole phrases, not fragments.
	require.False(t, d.Detect("the traffic report is unusual reading"))
}

func TestDetectorExtraMarkers(t *testing.T) {
	t.Parallel()

	d := NewChallengeDetector("access denied")
	require.True(t, d.Detect("Access Denied: contact the administrator"))
	// Defaults still apply alongside extras.
	require.True(t, d.Detect("please solve this captcha"))
}
