package reminders

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jerry-enebeli/rentcycle/shortlink"
)

// MaxMessageLength keeps bodies inside two SMS segments.
const MaxMessageLength = 300

// compose joins text with an optional shortened link. The link is dropped
// when it would push the body past MaxMessageLength, so long carrier URLs
// are never sent raw.
func compose(ctx context.Context, sh shortlink.Shortener, text, label, link string) string {
	text = strings.TrimSpace(text)
	if link != "" {
		if sh != nil {
			link = sh.Shorten(ctx, link)
		}
		withLink := text + " " + label + link
		if utf8.RuneCountInString(withLink) <= MaxMessageLength {
			return withLink
		}
	}
	return truncate(text, MaxMessageLength)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
