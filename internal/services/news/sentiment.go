package news

import "strings"

// Keyword lists cover the mixed Chinese/English headlines the configured
// feeds produce.
var positiveKeywords = []string{
	"利好", "大涨", "上涨", "看涨", "乐观", "增长", "突破", "创新高",
	"反弹", "回暖", "向好", "超预期", "盈利", "增持", "推荐", "bullish", "rally",
}

var negativeKeywords = []string{
	"利空", "大跌", "下跌", "看跌", "悲观", "回落", "跌破", "亏损",
	"减持", "预警", "风险", "下滑", "承压", "谨慎", "抛售", "bearish",
}

// Counts tallies positive and negative keyword occurrences in text.
func Counts(text string) (positive, negative int) {
	lower := strings.ToLower(text)
	for _, kw := range positiveKeywords {
		positive += strings.Count(lower, kw)
	}
	for _, kw := range negativeKeywords {
		negative += strings.Count(lower, kw)
	}
	return positive, negative
}

// Score reduces keyword counts to a sentiment in [-1, 1]. Zero when the text
// carries no signal either way.
func Score(text string) float64 {
	pos, neg := Counts(text)
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}
