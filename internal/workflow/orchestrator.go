package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
)

// Orchestrator はTemporalクライアント経由で同期ワークフローを起動する。
// cronワーカーのRunnerと同じ操作面を持ち、APIサーバーからの同期トリガーを
// Temporal上の実行に置き換える。
type Orchestrator struct {
	client     client.Client
	sites      []config.SiteConfig
	taskQueue  string
	maxAnalyze int
	logger     *slog.Logger
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(
	c client.Client,
	sites []config.SiteConfig,
	taskQueue string,
	maxAnalyze int,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		client:     c,
		sites:      sites,
		taskQueue:  taskQueue,
		maxAnalyze: maxAnalyze,
		logger:     logger.With(slog.String("component", "sync.orchestrator")),
	}
}

// RunSync は指定サイトの同期ワークフローを起動し、完了まで待つ。
func (o *Orchestrator) RunSync(ctx context.Context, siteName string) (*SyncResult, error) {
	site, ok := o.findSite(siteName)
	if !ok {
		return nil, model.NewSiteNotFoundError(siteName)
	}

	input := SyncInput{Site: site, Reason: "manual", MaxAnalyze: o.maxAnalyze}
	we, err := o.client.ExecuteWorkflow(ctx, o.startOptions(siteName), syncWorkflowName, input)
	if err != nil {
		return nil, o.mapStartError(siteName, err)
	}

	var result SyncResult
	if err := we.Get(ctx, &result); err != nil {
		o.logger.Error("ワークフローの完了待ちに失敗しました",
			slog.String("workflow_id", we.GetID()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("同期ワークフローが失敗しました: %w", err)
	}
	result.WorkflowID = we.GetID()
	result.RunID = we.GetRunID()

	o.logger.Info("ワークフローが完了しました",
		slog.String("workflow_id", result.WorkflowID),
		slog.String("run_id", result.RunID),
		slog.String("site", siteName),
	)
	return &result, nil
}

// RunSyncAsync は指定サイトの同期ワークフローを起動し、ワークフローIDを即座に返す。
func (o *Orchestrator) RunSyncAsync(ctx context.Context, siteName string) (string, error) {
	site, ok := o.findSite(siteName)
	if !ok {
		return "", model.NewSiteNotFoundError(siteName)
	}

	input := SyncInput{Site: site, Reason: "api", MaxAnalyze: o.maxAnalyze}
	we, err := o.client.ExecuteWorkflow(ctx, o.startOptions(siteName), syncWorkflowName, input)
	if err != nil {
		return "", o.mapStartError(siteName, err)
	}

	o.logger.Info("ワークフローを起動しました",
		slog.String("workflow_id", we.GetID()),
		slog.String("run_id", we.GetRunID()),
		slog.String("site", siteName),
	)
	return we.GetID(), nil
}

func (o *Orchestrator) startOptions(siteName string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                       fmt.Sprintf("sync-%s-%d", siteName, time.Now().Unix()),
		TaskQueue:                o.taskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionTimeout: 30 * time.Minute,
	}
}

// mapStartError は起動エラーをAPIエラーへ変換する。
// 同一ワークフローIDの実行が既にある場合はSYNC_RUNNINGになる。
func (o *Orchestrator) mapStartError(siteName string, err error) error {
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		return model.NewSyncRunningError(siteName)
	}
	o.logger.Error("ワークフローの起動に失敗しました",
		slog.String("site", siteName),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("ワークフローの起動に失敗しました: %w", err)
}

func (o *Orchestrator) findSite(name string) (config.SiteConfig, bool) {
	for _, site := range o.sites {
		if site.Name == name {
			return site, true
		}
	}
	return config.SiteConfig{}, false
}
