package runner

import "strings"

// Phrases the agent binaries print on stderr when they want an interactive
// login. Collected from captured transcripts; matching is case-insensitive
// over the accumulated stream.
var authPromptPhrases = []string{
	"please run /login",
	"please log in",
	"please sign in",
	"not logged in",
	"login required",
	"authentication required",
	"authentication_error",
	"invalid api key",
	"api key not found",
	"credentials are missing",
	"visit the following url to authenticate",
	"oauth token has expired",
}

// DetectAuthPrompt reports whether accumulated stderr looks like an
// interactive login prompt. A run that hits one will never complete
// unattended, so the caller cancels immediately instead of sitting out
// the full timeout.
func DetectAuthPrompt(stderr string) bool {
	lowered := strings.ToLower(stderr)
	for _, phrase := range authPromptPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}
