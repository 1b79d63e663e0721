package content

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// PageExtractor はページ取得・抽出のインターフェース。
// テスト時にモックに差し替え可能。
type PageExtractor interface {
	Extract(ctx context.Context, pageURL string) (*Page, error)
}

// コンパイル時のインターフェース実装チェック
var _ PageExtractor = (*Extractor)(nil)

// BatchConfig はバッチ分析の設定パラメータ。
// 環境変数から設定可能。
type BatchConfig struct {
	// BatchSize は1バッチあたりのURL数（デフォルト: 5）。
	BatchSize int
	// BatchDelay はバッチ間の待機時間（デフォルト: 2秒）。
	BatchDelay time.Duration
	// MaxConcurrent はバッチ内の最大同時処理数（デフォルト: 3）。
	MaxConcurrent int
	// MinChars は分析対象とする本文の最小文字数（デフォルト: 100）。
	MinChars int
	// MaxPerRun は1回の実行で分析する最大URL数（デフォルト: 20）。
	MaxPerRun int
}

// DefaultBatchConfig はデフォルトのバッチ分析設定を返す。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:     5,
		BatchDelay:    2 * time.Second,
		MaxConcurrent: 3,
		MinChars:      100,
		MaxPerRun:     20,
	}
}

// BatchAnalyzer は複数URLの取得・抽出・分析をバッチで実行する。
// バッチ内は同時処理数を制限し、バッチ間には待機を入れて
// 取得先とLLM APIの両方への負荷を抑える。
type BatchAnalyzer struct {
	extractor PageExtractor
	analyzer  Analyzer
	logger    *slog.Logger
	config    BatchConfig
}

// NewBatchAnalyzer はBatchAnalyzerの新しいインスタンスを生成する。
func NewBatchAnalyzer(
	extractor PageExtractor,
	analyzer Analyzer,
	logger *slog.Logger,
	config BatchConfig,
) *BatchAnalyzer {
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}
	return &BatchAnalyzer{
		extractor: extractor,
		analyzer:  analyzer,
		logger:    logger,
		config:    config,
	}
}

// urlOutcome は1URL分の処理結果。
type urlOutcome struct {
	url      string
	analysis *model.ContentAnalysis
	skipped  bool
	err      error
}

// Run はURLリストをバッチ分析し、成功した分析結果と失敗したURLを返す。
// 個別URLの失敗はログに残して実行を続ける（実行全体は止めない）。
// 本文がMinChars未満のページは分析せずスキップする。スキップは失敗に数えない。
// コンテキストがキャンセルされた場合、未着手のURLは失敗に含めない。
func (b *BatchAnalyzer) Run(ctx context.Context, urls []string) ([]*model.ContentAnalysis, []string) {
	start := time.Now()

	if len(urls) == 0 {
		return nil, nil
	}
	if b.config.MaxPerRun > 0 && len(urls) > b.config.MaxPerRun {
		b.logger.Info("分析対象URLが上限を超えたため切り詰めます",
			slog.Int("total", len(urls)),
			slog.Int("max_per_run", b.config.MaxPerRun),
		)
		urls = urls[:b.config.MaxPerRun]
	}

	var results []*model.ContentAnalysis
	var failed []string
	var skippedCount int
	var batchCount int

	for i := 0; i < len(urls); i += b.config.BatchSize {
		if ctx.Err() != nil {
			break
		}

		// バッチ間の待機（初回は待たない）
		if batchCount > 0 && b.config.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return results, failed
			case <-time.After(b.config.BatchDelay):
			}
		}
		batchCount++

		end := i + b.config.BatchSize
		if end > len(urls) {
			end = len(urls)
		}
		chunk := urls[i:end]

		outcomes := b.runBatch(ctx, chunk)
		for _, o := range outcomes {
			switch {
			case o.err != nil:
				failed = append(failed, o.url)
				b.logger.Warn("URLの分析に失敗したため除外します",
					slog.String("url", o.url),
					slog.String("error", o.err.Error()),
				)
			case o.skipped:
				skippedCount++
				b.logger.Debug("本文が短いため分析をスキップします",
					slog.String("url", o.url),
					slog.Int("min_chars", b.config.MinChars),
				)
			default:
				results = append(results, o.analysis)
			}
		}
	}

	duration := time.Since(start)
	b.logger.Info("バッチ分析が完了しました",
		slog.Int("analyzed", len(results)),
		slog.Int("skipped", skippedCount),
		slog.Int("failed", len(failed)),
		slog.Int("batches", batchCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return results, failed
}

// runBatch は1バッチ分のURLを同時処理数の上限つきで処理する。
// 結果は入力順で返す。
func (b *BatchAnalyzer) runBatch(ctx context.Context, chunk []string) []urlOutcome {
	outcomes := make([]urlOutcome, len(chunk))
	sem := make(chan struct{}, b.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i, pageURL := range chunk {
		wg.Add(1)
		go func(i int, pageURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = b.processURL(ctx, pageURL)
		}(i, pageURL)
	}
	wg.Wait()

	return outcomes
}

// AnalyzeOne は1URLを取得・抽出・分析して結果を返す。
// 本文が分析対象の最低文字数に満たない場合は (nil, nil) を返す。
func (b *BatchAnalyzer) AnalyzeOne(ctx context.Context, pageURL string) (*model.ContentAnalysis, error) {
	o := b.processURL(ctx, pageURL)
	if o.err != nil {
		return nil, o.err
	}
	if o.skipped {
		return nil, nil
	}
	return o.analysis, nil
}

// processURL は1URLの取得・抽出・分析を行う。
func (b *BatchAnalyzer) processURL(ctx context.Context, pageURL string) urlOutcome {
	page, err := b.extractor.Extract(ctx, pageURL)
	if err != nil {
		return urlOutcome{url: pageURL, err: err}
	}

	if len([]rune(page.Text)) < b.config.MinChars {
		return urlOutcome{url: pageURL, skipped: true}
	}

	analysis, err := b.analyzer.Analyze(ctx, page.URL, page.Title, page.Text)
	if err != nil {
		return urlOutcome{url: pageURL, err: err}
	}
	return urlOutcome{url: pageURL, analysis: analysis}
}
