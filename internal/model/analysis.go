// Package model はドメインモデルを定義する。
package model

import "time"

// ScoreBreakdown は読む価値スコアの内訳を表す。
// 各次元は0.0〜10.0。総合スコアは重み付き合計で算出される
// （実用性0.25、学習価値0.25、時事性0.20、深さ0.15、完成度0.15）。
type ScoreBreakdown struct {
	Practicality float64 `json:"practicality"`
	Learning     float64 `json:"learning"`
	Timeliness   float64 `json:"timeliness"`
	Depth        float64 `json:"depth"`
	Completeness float64 `json:"completeness"`
}

// WeightedTotal は重み付き総合スコアを算出する。
func (b ScoreBreakdown) WeightedTotal() float64 {
	return b.Practicality*0.25 + b.Learning*0.25 + b.Timeliness*0.20 +
		b.Depth*0.15 + b.Completeness*0.15
}

// 難易度レベル。
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// ContentAnalysis はページ内容の分析結果を表す。
// JSONレポートとしてそのまま保存されるためタグを持つ。
type ContentAnalysis struct {
	URL                string         `json:"url"`
	Title              string         `json:"title"`
	Summary            string         `json:"summary"`
	Tags               []string       `json:"tags"`
	ReadingScore       float64        `json:"reading_score"`
	ReadingTimeMinutes int            `json:"reading_time_minutes"`
	DifficultyLevel    string         `json:"difficulty_level"`
	ScoreBreakdown     ScoreBreakdown `json:"score_breakdown"`
	AnalyzedAt         time.Time      `json:"analyzed_at"`
	ModelUsed          string         `json:"model_used"`
	ConfidenceScore    float64        `json:"confidence_score"`
}
