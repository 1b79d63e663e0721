package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hitoshi/sitewatch/internal/model"
)

// promptTextLimit はプロンプトに含める本文の最大文字数（rune数）。
const promptTextLimit = 1500

// Analyzer はページ内容の分析のインターフェース。
type Analyzer interface {
	Analyze(ctx context.Context, url, title, text string) (*model.ContentAnalysis, error)
	Name() string
}

// コンパイル時のインターフェース実装チェック
var (
	_ Analyzer = (*ClaudeAnalyzer)(nil)
	_ Analyzer = (*HeuristicAnalyzer)(nil)
)

// analysisPayload はLLMに要求するJSONレスポンスの形。
type analysisPayload struct {
	Summary            string               `json:"summary"`
	Tags               []string             `json:"tags"`
	ReadingTimeMinutes int                  `json:"reading_time_minutes"`
	DifficultyLevel    string               `json:"difficulty_level"`
	Scores             model.ScoreBreakdown `json:"scores"`
	Confidence         float64              `json:"confidence"`
}

const analysisSystemPrompt = `あなたは技術記事の評価専門家です。与えられた記事を分析し、厳密なJSONのみで回答してください。

JSONの形式:
{
  "summary": "150〜200字の日本語要約",
  "tags": ["タグを3〜8個"],
  "reading_time_minutes": 整数,
  "difficulty_level": "beginner" | "intermediate" | "advanced",
  "scores": {
    "practicality": 0.0〜10.0,
    "learning": 0.0〜10.0,
    "timeliness": 0.0〜10.0,
    "depth": 0.0〜10.0,
    "completeness": 0.0〜10.0
  },
  "confidence": 0.0〜1.0
}

評価基準:
- practicality: 実務にそのまま適用できる度合い
- learning: 新しい知識や技能を学べる度合い
- timeliness: 情報の鮮度と現在の関連性
- depth: 技術的な深さと複雑さ
- completeness: 内容の完全性と論理性

JSON以外のテキストは一切出力しないでください。`

// ClaudeAnalyzer はAnthropic Messages APIで内容を分析する。
// レスポンスは厳密なJSONを要求し、総合スコアは内訳から再計算する。
// JSONが壊れている場合はスコアを捏造せずエラーを返す。
type ClaudeAnalyzer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

// NewClaudeAnalyzer はClaudeAnalyzerの新しいインスタンスを生成する。
func NewClaudeAnalyzer(apiKey, modelName string, logger *slog.Logger) *ClaudeAnalyzer {
	return &ClaudeAnalyzer{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(modelName),
		maxTokens: 1024,
		logger:    logger,
	}
}

// Name は分析器の名前を返す。
func (a *ClaudeAnalyzer) Name() string {
	return string(a.model)
}

// Analyze はページ内容をLLMで分析する。
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, url, title, text string) (*model.ContentAnalysis, error) {
	prompt := fmt.Sprintf("タイトル: %s\n\n本文:\n%s", title, truncateRunes(text, promptTextLimit))

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(0.2),
		System: []anthropic.TextBlockParam{
			{Text: analysisSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("分析APIの呼び出しに失敗しました: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(b.Text)
		}
	}

	payload, err := decodeAnalysisPayload(sb.String())
	if err != nil {
		return nil, fmt.Errorf("URL %s の分析レスポンスの解析に失敗しました: %w", url, err)
	}

	analysis := buildAnalysis(url, title, text, payload, string(a.model))
	a.logger.Debug("内容分析が完了しました",
		slog.String("url", url),
		slog.Float64("reading_score", analysis.ReadingScore),
	)
	return analysis, nil
}

// decodeAnalysisPayload はLLMレスポンスのJSONを復号する。
// コードフェンスで包まれたレスポンスも許容する。
func decodeAnalysisPayload(raw string) (*analysisPayload, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, fmt.Errorf("JSONとして不正です: %w", err)
	}
	return &payload, nil
}

// buildAnalysis はペイロードからContentAnalysisを組み立てる。
// 総合スコアはLLMの自己申告ではなく内訳の重み付き合計で算出する。
func buildAnalysis(url, title, text string, payload *analysisPayload, modelUsed string) *model.ContentAnalysis {
	breakdown := model.ScoreBreakdown{
		Practicality: clampScore(payload.Scores.Practicality),
		Learning:     clampScore(payload.Scores.Learning),
		Timeliness:   clampScore(payload.Scores.Timeliness),
		Depth:        clampScore(payload.Scores.Depth),
		Completeness: clampScore(payload.Scores.Completeness),
	}

	readingTime := payload.ReadingTimeMinutes
	if readingTime <= 0 {
		readingTime = fallbackReadingTime(text)
	}

	confidence := payload.Confidence
	if confidence <= 0 {
		confidence = 0.5
	} else if confidence > 1 {
		confidence = 1
	}

	return &model.ContentAnalysis{
		URL:                url,
		Title:              title,
		Summary:            payload.Summary,
		Tags:               payload.Tags,
		ReadingScore:       roundScore(breakdown.WeightedTotal()),
		ReadingTimeMinutes: readingTime,
		DifficultyLevel:    normalizeDifficulty(payload.DifficultyLevel),
		ScoreBreakdown:     breakdown,
		AnalyzedAt:         time.Now().UTC(),
		ModelUsed:          modelUsed,
		ConfidenceScore:    confidence,
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// roundScore はスコアを小数第1位に丸める。
func roundScore(v float64) float64 {
	return math.Round(v*10) / 10
}

func normalizeDifficulty(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case model.DifficultyBeginner:
		return model.DifficultyBeginner
	case model.DifficultyAdvanced:
		return model.DifficultyAdvanced
	default:
		return model.DifficultyIntermediate
	}
}

// fallbackReadingTime は文字数からの読了時間の概算（毎分500字）。
func fallbackReadingTime(text string) int {
	minutes := len([]rune(text)) / 500
	if minutes < 1 {
		return 1
	}
	return minutes
}
