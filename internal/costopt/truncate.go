package costopt

import "strings"

// Token budget approximation: one word per token is close enough for
// government prose and errs on the small side.

const (
	firstChunkWords = 500
	maxDetailLines  = 20
	minDetailLen    = 20
	skipLeadLines   = 5
)

// moneyMarkers flag lines that tend to carry deal specifics.
var moneyMarkers = []string{"$", "billion", "million", "•", "- "}

// TruncateText reduces text to roughly maxTokens words while keeping
// the parts a classifier needs: the opening summary plus any later
// lines that mention money or overlap the watchlist keywords. That
// beats a plain prefix cut, which tends to drop the dollar figures
// buried in bullet lists.
func TruncateText(text string, maxTokens int, keywords []string) string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}

	lead := firstChunkWords
	if lead > maxTokens {
		lead = maxTokens
	}
	first := strings.Join(words[:lead], " ")

	lowerKeywords := make([]string, len(keywords))
	for i, kw := range keywords {
		lowerKeywords[i] = strings.ToLower(kw)
	}

	var details []string
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i < skipLeadLines {
			continue
		}
		line = strings.TrimSpace(line)
		if len(line) < minDetailLen {
			continue
		}
		if !detailLine(line, lowerKeywords) {
			continue
		}
		details = append(details, line)
		if len(details) == maxDetailLines {
			break
		}
	}

	combined := first
	if len(details) > 0 {
		combined += "\n\n---\n\n" + strings.Join(details, "\n")
	}

	if cw := strings.Fields(combined); len(cw) > maxTokens {
		combined = strings.Join(cw[:maxTokens], " ")
	}
	return combined
}

func detailLine(line string, lowerKeywords []string) bool {
	for _, m := range moneyMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, kw := range lowerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
