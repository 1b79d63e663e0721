package content

import (
	"context"
	"strings"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// HeuristicAnalyzer はAPIキーなしで動く後備の分析器。
// 本文の長さとキーワードの出現だけでスコアを付けるため、
// 確信度は常に低い固定値を返す。
type HeuristicAnalyzer struct{}

// NewHeuristicAnalyzer はHeuristicAnalyzerの新しいインスタンスを生成する。
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{}
}

// Name は分析器の名前を返す。
func (a *HeuristicAnalyzer) Name() string {
	return "heuristic"
}

// practicalKeywords は実用性の手がかりになる語。
var practicalKeywords = []string{
	"how to", "tutorial", "guide", "example", "入門", "使い方", "手順",
	"チュートリアル", "実践", "サンプル",
}

// depthKeywords は技術的深さの手がかりになる語。
var depthKeywords = []string{
	"architecture", "internals", "performance", "benchmark", "アーキテクチャ",
	"内部実装", "性能", "仕組み",
}

// Analyze は決定的なルールでページ内容を採点する。
func (a *HeuristicAnalyzer) Analyze(_ context.Context, url, title, text string) (*model.ContentAnalysis, error) {
	runes := len([]rune(text))
	lower := strings.ToLower(title + " " + text)

	breakdown := model.ScoreBreakdown{
		Practicality: 5.0,
		Learning:     5.0,
		Timeliness:   5.0,
		Depth:        5.0,
		Completeness: 5.0,
	}

	switch {
	case runes > 3000:
		breakdown.Depth += 2
		breakdown.Completeness += 1
	case runes > 1000:
		breakdown.Depth += 1
	}
	if containsAny(lower, practicalKeywords) {
		breakdown.Practicality += 2
		breakdown.Learning += 1
	}
	if containsAny(lower, depthKeywords) {
		breakdown.Depth += 1
		breakdown.Learning += 1
	}
	breakdown.Practicality = clampScore(breakdown.Practicality)
	breakdown.Learning = clampScore(breakdown.Learning)
	breakdown.Depth = clampScore(breakdown.Depth)
	breakdown.Completeness = clampScore(breakdown.Completeness)

	difficulty := model.DifficultyIntermediate
	switch {
	case runes < 800:
		difficulty = model.DifficultyBeginner
	case runes > 4000:
		difficulty = model.DifficultyAdvanced
	}

	return &model.ContentAnalysis{
		URL:                url,
		Title:              title,
		Summary:            truncateRunes(text, 200),
		Tags:               matchedKeywords(lower),
		ReadingScore:       roundScore(breakdown.WeightedTotal()),
		ReadingTimeMinutes: fallbackReadingTime(text),
		DifficultyLevel:    difficulty,
		ScoreBreakdown:     breakdown,
		AnalyzedAt:         time.Now().UTC(),
		ModelUsed:          "heuristic",
		ConfidenceScore:    0.3,
	}, nil
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// matchedKeywords は出現したキーワードをタグとして返す（最大8個）。
func matchedKeywords(s string) []string {
	var tags []string
	for _, kw := range append(append([]string{}, practicalKeywords...), depthKeywords...) {
		if strings.Contains(s, kw) {
			tags = append(tags, kw)
		}
		if len(tags) >= 8 {
			break
		}
	}
	return tags
}
