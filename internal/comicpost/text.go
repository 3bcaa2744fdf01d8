package comicpost

import "strings"

const ellipsis = "…"

// ComposeStatus joins message and link into a status no longer than limit
// runes. The link is always kept; the message is cut with an ellipsis.
func ComposeStatus(message, link string, limit int) string {
	message = strings.TrimSpace(message)
	link = strings.TrimSpace(link)

	tail := ""
	if link != "" {
		tail = link
		if message != "" {
			tail = "\n\n" + link
		}
	}

	text := message + tail
	if limit <= 0 || runeLen(text) <= limit {
		return text
	}

	avail := limit - runeLen(tail) - runeLen(ellipsis)
	if avail <= 0 {
		return truncateRunes(text, limit)
	}
	return strings.TrimSpace(truncateRunes(message, avail)) + ellipsis + tail
}

func runeLen(s string) int { return len([]rune(s)) }

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[:n])
}
