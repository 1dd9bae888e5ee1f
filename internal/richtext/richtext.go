// Package richtext converts calendar descriptions (HTML as produced by
// Google Calendar) into the bot's display markup, and display markup into
// Telegram HTML.
//
// Display markup is a small Markdown subset: **bold**, [text](url) and
// newlines. Everything else is plain text.
package richtext

import (
	"html"
	"regexp"
	"strings"

	"calnotify/pkg/tgui"
)

var (
	reBold      = regexp.MustCompile(`(?i)</?(?:b|strong)\s*>`)
	reBreak     = regexp.MustCompile(`(?i)<br\s*/?>`)
	reParaEnd   = regexp.MustCompile(`(?i)</(?:p|div)\s*>`)
	reListItem  = regexp.MustCompile(`(?i)<li[^>]*>`)
	reAnchor    = regexp.MustCompile(`(?is)<a\s+[^>]*?href="([^"]+)"[^>]*>(.*?)</a\s*>`)
	reAnyTag    = regexp.MustCompile(`<[^>]+>`)
	reManyBlank = regexp.MustCompile(`\n{3,}`)

	// Link URLs may carry one level of balanced parentheses (wiki links).
	reMarkup = regexp.MustCompile(`(?s)\[([^\]\n]*)\]\(((?:[^()\s]|\([^()\s]*\))+)\)|\*\*(.+?)\*\*`)
)

// FromHTML converts rich-text HTML into display markup. Bold, line breaks
// and links survive; every other tag is stripped and entities are decoded.
func FromHTML(s string) string {
	s = reBold.ReplaceAllString(s, "**")
	s = reBreak.ReplaceAllString(s, "\n")
	s = reParaEnd.ReplaceAllString(s, "\n")
	s = reListItem.ReplaceAllString(s, "\n• ")
	s = reAnchor.ReplaceAllStringFunc(s, func(m string) string {
		sub := reAnchor.FindStringSubmatch(m)
		// Link text is rendered verbatim, so bold markers inside it are dropped.
		text := strings.TrimSpace(strings.ReplaceAll(reAnyTag.ReplaceAllString(sub[2], ""), "**", ""))
		if text == "" {
			text = sub[1]
		}
		return "[" + text + "](" + sub[1] + ")"
	})
	s = reAnyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, " ", " ")
	s = reManyBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ToTelegramHTML renders display markup as Telegram HTML. All literal text
// is escaped.
func ToTelegramHTML(markup string) tgui.H {
	var b strings.Builder
	last := 0
	for _, m := range reMarkup.FindAllStringSubmatchIndex(markup, -1) {
		b.WriteString(tgui.Esc(markup[last:m[0]]).String())
		switch {
		case m[2] >= 0:
			b.WriteString(tgui.Link(markup[m[2]:m[3]], markup[m[4]:m[5]]).String())
		case m[6] >= 0:
			b.WriteString("<b>" + ToTelegramHTML(markup[m[6]:m[7]]).String() + "</b>")
		}
		last = m[1]
	}
	b.WriteString(tgui.Esc(markup[last:]).String())
	return tgui.H(b.String())
}
