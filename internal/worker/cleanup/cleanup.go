// Package cleanup は古くなったURL追跡レコードの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した処理済みレコードを日次バッチで
// 削除する。未処理・失敗のレコードは削除対象にならない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StateCleaner は追跡状態の保持期間スイープを抽象化するインターフェース。
type StateCleaner interface {
	// Cleanup はdaysToKeep日より古い処理済みレコードを削除し、件数を返す。
	Cleanup(ctx context.Context, daysToKeep int) (int64, error)
}

// MetricsRecorder は削除件数のメトリクス記録を抽象化する。
type MetricsRecorder interface {
	RecordCleanupDeleted(count int64)
}

// RetentionJob は保持期間を超過した追跡レコードの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type RetentionJob struct {
	state         StateCleaner
	logger        *slog.Logger
	metrics       MetricsRecorder
	RetentionDays int // 処理済みレコードの保持日数（デフォルト: 30）
}

// NewRetentionJob は新しいRetentionJobを生成する。
// デフォルトの保持日数は30日。metricsはnil許容。
func NewRetentionJob(state StateCleaner, logger *slog.Logger, metrics MetricsRecorder) *RetentionJob {
	return &RetentionJob{
		state:         state,
		logger:        logger,
		metrics:       metrics,
		RetentionDays: 30,
	}
}

// Run は保持期間を超過した処理済みレコードを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *RetentionJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.state.Cleanup(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("追跡レコードのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("追跡レコードのクリーンアップに失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordCleanupDeleted(deleted)
	}

	duration := time.Since(start)
	j.logger.Info("追跡レコードのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
