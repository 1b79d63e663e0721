// Package workflow はサイト同期のTemporalオーケストレーションを提供する。
// TEMPORAL_ADDRESSが設定された環境でcronワーカーの代替として動作し、
// 同期の各段階をアクティビティとして実行することで、段階単位の自動リトライと
// 実行履歴の追跡をTemporalに委ねる。
package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
	"github.com/hitoshi/sitewatch/internal/sitemap"
)

const (
	syncWorkflowName             = "sitewatch.sync.site"
	fetchSitemapActivityName     = "sitewatch.sync.fetch_sitemap"
	detectChangesActivityName    = "sitewatch.sync.detect_changes"
	processURLActivityName       = "sitewatch.sync.process_url"
	recordOutcomesActivityName   = "sitewatch.sync.record_outcomes"
	reconcileActivityName        = "sitewatch.sync.reconcile"
	publishArtifactsActivityName = "sitewatch.sync.publish_artifacts"
)

// SyncInput はワークフロー1実行分の入力。
type SyncInput struct {
	Site config.SiteConfig `json:"site"`
	// Reason は起動経緯（api, manual, scheduleなど）。ログにのみ使われる。
	Reason string `json:"reason,omitempty"`
	// MaxAnalyze は1実行で本文分析するURL数の上限。0は無制限。
	MaxAnalyze int `json:"max_analyze,omitempty"`
}

// SyncResult はワークフロー1実行分の結果。
type SyncResult struct {
	Site        string            `json:"site"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Changes     *model.ChangeSet  `json:"changes,omitempty"`
	Reconciled  *model.SyncResult `json:"reconciled,omitempty"`
	Analyzed    int               `json:"analyzed"`
	Failed      []string          `json:"failed,omitempty"`
	Artifacts   []string          `json:"artifacts,omitempty"`
	WorkflowID  string            `json:"workflow_id,omitempty"`
	RunID       string            `json:"run_id,omitempty"`
}

// SiteSyncWorkflow は1サイト分の同期をアクティビティの連鎖として実行する。
// フェッチ→差分検出→（Analyze設定時）URL単位の本文分析→結果記録→
// 完全同期→アーティファクト生成の順に進む。URL単位の分析失敗は
// 失敗として記録して続行し、次回の差分検出でリトライ対象になる。
func SiteSyncWorkflow(ctx workflow.Context, input SyncInput) (SyncResult, error) {
	logger := workflow.GetLogger(ctx)
	if input.Site.Name == "" || input.Site.SitemapURL == "" {
		return SyncResult{}, errors.New("サイト名とサイトマップURLは必須です")
	}

	nonRetryable := []string{
		model.ErrCodeSiteNotFound,
		model.ErrCodeInvalidURL,
		model.ErrCodeSSRFBlocked,
		model.ErrCodeInvalidParams,
	}
	stepCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        5,
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			NonRetryableErrorTypes: nonRetryable,
		},
	})
	// URL単位の分析は失敗を許容して続行するため、試行回数を抑える。
	urlCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			NonRetryableErrorTypes: nonRetryable,
		},
	})

	result := SyncResult{Site: input.Site.Name, StartedAt: workflow.Now(ctx)}
	logger.Info("同期ワークフローを開始します",
		"site", input.Site.Name, "incremental", input.Site.Incremental(), "reason", input.Reason)

	var fetched FetchResult
	if err := workflow.ExecuteActivity(stepCtx, fetchSitemapActivityName, input.Site).Get(stepCtx, &fetched); err != nil {
		logger.Error("サイトマップの取得に失敗しました", "site", input.Site.Name, "error", err)
		return result, err
	}
	urls := sitemap.EntryURLs(fetched.Entries)

	var changes model.ChangeSet
	if err := workflow.ExecuteActivity(stepCtx, detectChangesActivityName, DetectInput{
		Site: input.Site,
		URLs: urls,
	}).Get(stepCtx, &changes); err != nil {
		logger.Error("差分検出に失敗しました", "site", input.Site.Name, "error", err)
		return result, err
	}
	result.Changes = &changes

	toProcess := make([]string, 0, len(changes.NewURLs)+len(changes.PendingURLs))
	toProcess = append(toProcess, changes.NewURLs...)
	toProcess = append(toProcess, changes.PendingURLs...)

	var (
		analyses  []*model.ContentAnalysis
		succeeded []string
		failed    []string
	)
	if input.Site.Analyze && len(toProcess) > 0 {
		limit := len(toProcess)
		if input.MaxAnalyze > 0 && limit > input.MaxAnalyze {
			logger.Info("分析対象URLが上限を超えたため切り詰めます",
				"site", input.Site.Name, "total", limit, "max_analyze", input.MaxAnalyze)
			limit = input.MaxAnalyze
		}
		for _, pageURL := range toProcess[:limit] {
			var processed ProcessURLResult
			err := workflow.ExecuteActivity(urlCtx, processURLActivityName, ProcessURLInput{URL: pageURL}).Get(urlCtx, &processed)
			if err != nil {
				logger.Warn("URLの処理に失敗しました", "site", input.Site.Name, "url", pageURL, "error", err)
				failed = append(failed, pageURL)
				continue
			}
			succeeded = append(succeeded, pageURL)
			if processed.Analysis != nil {
				analyses = append(analyses, processed.Analysis)
			}
		}
		// 上限で切り詰めたURLはcronワーカーと同じく処理済み扱いにする
		succeeded = append(succeeded, toProcess[limit:]...)
	} else {
		succeeded = toProcess
	}
	result.Analyzed = len(analyses)
	result.Failed = failed

	if len(toProcess) > 0 {
		if err := workflow.ExecuteActivity(stepCtx, recordOutcomesActivityName, OutcomesInput{
			Site:      input.Site.Name,
			Succeeded: succeeded,
			Failed:    failed,
		}).Get(stepCtx, nil); err != nil {
			logger.Error("処理結果の記録に失敗しました", "site", input.Site.Name, "error", err)
			return result, err
		}
	}

	var reconciled model.SyncResult
	if err := workflow.ExecuteActivity(stepCtx, reconcileActivityName, ReconcileInput{
		Site: input.Site,
		URLs: urls,
	}).Get(stepCtx, &reconciled); err != nil {
		logger.Error("完全同期に失敗しました", "site", input.Site.Name, "error", err)
		return result, err
	}
	result.Reconciled = &reconciled

	var published PublishResult
	if err := workflow.ExecuteActivity(stepCtx, publishArtifactsActivityName, PublishInput{
		Site:     input.Site,
		Entries:  fetched.Entries,
		Changes:  &changes,
		Analyses: analyses,
	}).Get(stepCtx, &published); err != nil {
		logger.Error("アーティファクト生成に失敗しました", "site", input.Site.Name, "error", err)
		return result, err
	}
	result.Artifacts = published.Artifacts

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("同期ワークフローが完了しました",
		"site", input.Site.Name,
		"new", len(changes.NewURLs),
		"pending", len(changes.PendingURLs),
		"analyzed", result.Analyzed,
		"failed", len(failed),
		"deleted", reconciled.DeletedURLs,
		"artifacts", len(published.Artifacts),
	)
	return result, nil
}

// RegisterSyncWorker は同期タスクキューを消費するTemporalワーカーを組み立てる。
func RegisterSyncWorker(c client.Client, taskQueue string, acts *SyncActivities) temporalworker.Worker {
	w := temporalworker.New(c, taskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(SiteSyncWorkflow, workflow.RegisterOptions{Name: syncWorkflowName})
	w.RegisterActivityWithOptions(acts.FetchSitemapActivity, activity.RegisterOptions{Name: fetchSitemapActivityName})
	w.RegisterActivityWithOptions(acts.DetectChangesActivity, activity.RegisterOptions{Name: detectChangesActivityName})
	w.RegisterActivityWithOptions(acts.ProcessURLActivity, activity.RegisterOptions{Name: processURLActivityName})
	w.RegisterActivityWithOptions(acts.RecordOutcomesActivity, activity.RegisterOptions{Name: recordOutcomesActivityName})
	w.RegisterActivityWithOptions(acts.ReconcileActivity, activity.RegisterOptions{Name: reconcileActivityName})
	w.RegisterActivityWithOptions(acts.PublishArtifactsActivity, activity.RegisterOptions{Name: publishArtifactsActivityName})
	return w
}
