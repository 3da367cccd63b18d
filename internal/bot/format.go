package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"site_tracker/internal/model"
)

// maxCaptionRunes is Telegram's limit for document captions.
const maxCaptionRunes = 1024

// FormatPageList formats tracked pages as a numbered list with file counts.
func FormatPageList(pages []model.TrackedPage) string {
	if len(pages) == 0 {
		return msgNoPages
	}
	var b strings.Builder
	b.WriteString("Tracked URLs:\n")
	for i, p := range pages {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, p.URL, countFiles(p.Resources))
	}
	return b.String()
}

func countFiles(resources []model.Resource) string {
	var docs, images int
	for _, r := range resources {
		switch r.Kind {
		case model.KindDocument:
			docs++
		case model.KindImage:
			images++
		}
	}
	return fmt.Sprintf("%d documents, %d images", docs, images)
}

// TruncateCaption shortens a caption to the Telegram limit, marking the cut with "…".
func TruncateCaption(s string) string {
	if utf8.RuneCountInString(s) <= maxCaptionRunes {
		return s
	}
	return string([]rune(s)[:maxCaptionRunes-1]) + "…"
}
