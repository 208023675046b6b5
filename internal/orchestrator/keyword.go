// internal/orchestrator/keyword.go
package orchestrator

import (
	"regexp"
	"strings"
)

var (
	latinRunPattern  = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9 _-]{0,40}`)
	fillerPattern    = regexp.MustCompile(`帮我找|请帮我找|帮忙找|附近哪里有|附近有没有|有没有|找一下|查一下|搜索|查询|机厅`)
	collapsePattern  = regexp.MustCompile(`\s+`)
	keywordTrimChars = " ,.!?，。！？"
)

// extractKeyword pulls a usable search keyword out of a free-form message.
// Latin tokens win when present (game titles are usually romanized); for
// pure Chinese text common request filler is stripped instead.
func extractKeyword(message string) string {
	text := strings.TrimSpace(message)
	if text == "" {
		return ""
	}

	if matches := latinRunPattern.FindAllString(text, -1); len(matches) > 0 {
		candidate := strings.TrimSpace(matches[len(matches)-1])
		if strings.Contains(candidate, " ") {
			pieces := strings.Fields(candidate)
			if len(pieces) > 0 {
				candidate = pieces[len(pieces)-1]
			}
		}
		return candidate
	}

	cleaned := fillerPattern.ReplaceAllString(text, " ")
	cleaned = collapsePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.Trim(cleaned, keywordTrimChars)
	if cleaned == "" {
		return text
	}
	return cleaned
}

// shorten compacts whitespace and truncates for log fields. Truncation is
// rune-bounded so multi-byte text never yields invalid UTF-8.
func shorten(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	runes := []rune(compact)
	if len(runes) <= limit {
		return compact
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return strings.TrimRight(string(runes[:limit-3]), " ") + "..."
}
