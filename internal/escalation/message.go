// Package escalation is the human-in-the-loop stage: it notifies an
// operator chat when automated resolution gives up and turns free-text
// replies back into link decisions.
package escalation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/client-linker/internal/model"
)

const defaultPreviewChars = 500

// Identifier formats recognized in replied-to messages. The bracket form
// is what we send today; the other two appeared in earlier notification
// wording and still arrive from long-lived chats.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[transcript:([A-Za-z0-9_-]+)\]`),
	regexp.MustCompile(`Transcript ID:\s*([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`#([A-Za-z0-9_-]{8,})`),
}

// ExtractTranscriptID scans a notification message for the embedded
// transcript identifier. Returns "" when none is found.
func ExtractTranscriptID(text string) string {
	for _, p := range idPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// ComposeNotification renders the needs-human message for one transcript.
func ComposeNotification(t *model.Transcript, reason, dashboardURL string, previewChars int) string {
	if previewChars <= 0 {
		previewChars = defaultPreviewChars
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Transcript needs a human [transcript:%s]\n", t.ID)
	fmt.Fprintf(&b, "Title: %s\n", t.Title)
	if !t.MeetingDate.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", t.MeetingDate.Format(time.RFC1123))
	}
	if len(t.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(t.Participants, ", "))
	}
	fmt.Fprintf(&b, "Status: %s\n", t.LinkingStatus)
	if reason != "" {
		fmt.Fprintf(&b, "Why: %s\n", reason)
	}
	if preview := previewOf(t.Body, previewChars); preview != "" {
		fmt.Fprintf(&b, "\n%s\n", preview)
	}
	if dashboardURL != "" {
		fmt.Fprintf(&b, "\nResolve: %s/transcripts/%s\n", strings.TrimRight(dashboardURL, "/"), t.ID)
	}
	b.WriteString("\nReply with a client name or email to link, or \"manual\" to handle it yourself.")
	return b.String()
}

func previewOf(body string, limit int) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit]) + "…"
}
