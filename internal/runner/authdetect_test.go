package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectAuthPrompt(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		want   bool
	}{
		{"claude login", "Error: Please run /login to authenticate", true},
		{"codex login", "ERROR: not logged in. Run `codex login` first.", true},
		{"gemini oauth", "Visit the following URL to authenticate:\nhttps://example.com/oauth", true},
		{"api key", "Invalid API key provided", true},
		{"expired token", "your OAuth token has expired", true},
		{"mixed case", "AUTHENTICATION REQUIRED", true},
		{"split across chunks", "please lo" + "g in to continue", true},
		{"ordinary error", "panic: index out of range", false},
		{"rate limit", "429 too many requests, retry later", false},
		{"empty", "", false},
		{"word overlap", "the loginator module failed", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectAuthPrompt(tc.stderr))
		})
	}
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "", lastLines("", 3))
	assert.Equal(t, "only", lastLines("only\n", 3))
	assert.Equal(t, "c d e", lastLines("a\nb\nc\nd\ne", 3))
}
