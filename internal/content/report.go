package content

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// Report は1回の実行の分析結果レポート。
// analysis_results_YYYYMMDD_HHMMSS.json として保存される。
type Report struct {
	AnalyzedAt time.Time                `json:"analyzed_at"`
	Articles   []*model.ContentAnalysis `json:"articles"`
}

// NewReport は分析結果レポートを組み立てる。
func NewReport(now time.Time, articles []*model.ContentAnalysis) *Report {
	if articles == nil {
		articles = []*model.ContentAnalysis{}
	}
	return &Report{
		AnalyzedAt: now.UTC(),
		Articles:   articles,
	}
}

// Marshal はレポートをインデント付きJSONに変換する。
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("分析レポートのJSON変換に失敗しました: %w", err)
	}
	return data, nil
}

// ReportKey は保存キー（analysis_results_YYYYMMDD_HHMMSS.json）を返す。
func ReportKey(now time.Time) string {
	return fmt.Sprintf("analysis_results_%s.json", now.UTC().Format("20060102_150405"))
}
