package srt

import "testing"

func TestStreamKeyNormalization(t *testing.T) {
	t.Parallel()

	// Publishers address sessions as srt://host:port?streamid=<id>; the
	// key is what survives normalization.
	cases := map[string]string{
		"mic1":            "mic1",
		"/mic1":           "mic1",
		"live/mic1":       "mic1",
		"/live/mic1":      "mic1",
		"//live/mic1":     "mic1",
		"studio/mic1":     "studio/mic1",
		"live/floor/mic1": "floor/mic1",
		"livefeed":        "livefeed",
		"MIC1":            "MIC1",
	}
	for id, want := range cases {
		if got := streamKey(id); got != want {
			t.Errorf("streamKey(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestStreamKeyFallsBackToDefault(t *testing.T) {
	t.Parallel()

	// Degenerate IDs that normalize to nothing must still yield a usable
	// session key.
	for _, id := range []string{"", "/", "///", "live/", "/live/"} {
		if got := streamKey(id); got != "default" {
			t.Errorf("streamKey(%q) = %q, want \"default\"", id, got)
		}
	}
}
