// Package prompt composes advisory prompts from fund context and news
package prompt

import (
	"fmt"
	"strings"

	"github.com/bobmcallan/fundterm/internal/models"
	"github.com/bobmcallan/fundterm/internal/services/news"
)

const summaryMaxRunes = 150

// truncate clips s to at most max runes, appending an ellipsis when clipped.
func truncate(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "..."
}

// Compose builds the advisory prompt for one fund from its recent news. It is
// a pure function of its inputs: identical arguments always produce an
// identical prompt, so callers can log and replay prompts verbatim.
func Compose(displayName, code string, items []*models.NewsItem) string {
	var sb strings.Builder

	label := displayName
	if label == "" {
		label = code
	}
	fmt.Fprintf(&sb, "You are reviewing recent news for the fund %s (%s).\n\n", label, code)

	if len(items) == 0 {
		sb.WriteString("No recent news items were found for this fund.\n")
	} else {
		fmt.Fprintf(&sb, "Recent news (%d items):\n\n", len(items))
		var positive, negative int
		for i, item := range items {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, item.PubDate.Format("2006-01-02"), item.Title)
			if item.Summary != "" {
				fmt.Fprintf(&sb, "   %s\n", truncate(item.Summary, summaryMaxRunes))
			}
			fmt.Fprintf(&sb, "   Source: %s | %s\n", item.Source, item.Link)

			p, n := news.Counts(item.Title + " " + item.Summary)
			positive += p
			negative += n
		}
		fmt.Fprintf(&sb, "\nKeyword sentiment tally: %d positive, %d negative signals.\n", positive, negative)
	}

	sb.WriteString(`
Based on the news above, provide:
1. A recommendation: buy, sell, or hold.
2. The key reasons behind the recommendation.
3. A suggested position size as a percentage of available capital.
4. A stop-loss level or exit condition.

Keep the answer concise and actionable.
`)

	return sb.String()
}
