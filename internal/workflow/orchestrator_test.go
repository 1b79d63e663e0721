package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.temporal.io/api/serviceerror"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
)

func orchestratorSites() []config.SiteConfig {
	return []config.SiteConfig{
		{Name: "example-blog", SitemapURL: "https://example.com/sitemap.xml", Analyze: true},
		{Name: "docs-site", SitemapURL: "https://docs.example.com/sitemap.xml"},
	}
}

func newTestOrchestrator() *Orchestrator {
	return NewOrchestrator(nil, orchestratorSites(), "sitewatch-sync", 20, discardLogger())
}

func TestOrchestrator_RunSync_UnknownSite(t *testing.T) {
	o := newTestOrchestrator()

	_, err := o.RunSync(context.Background(), "unknown-site")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSiteNotFound {
		t.Fatalf("未登録サイトのエラーが一致しません: %v", err)
	}
}

func TestOrchestrator_RunSyncAsync_UnknownSite(t *testing.T) {
	o := newTestOrchestrator()

	runID, err := o.RunSyncAsync(context.Background(), "unknown-site")

	if runID != "" {
		t.Errorf("未登録サイトでワークフローIDが返されました: %s", runID)
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSiteNotFound {
		t.Fatalf("未登録サイトのエラーが一致しません: %v", err)
	}
}

func TestOrchestrator_StartOptions(t *testing.T) {
	o := newTestOrchestrator()

	opts := o.startOptions("example-blog")

	if !strings.HasPrefix(opts.ID, "sync-example-blog-") {
		t.Errorf("ワークフローIDの形式が一致しません: %s", opts.ID)
	}
	if opts.TaskQueue != "sitewatch-sync" {
		t.Errorf("タスクキューが一致しません: %s", opts.TaskQueue)
	}
	if opts.WorkflowExecutionTimeout != 30*time.Minute {
		t.Errorf("実行タイムアウトが一致しません: %v", opts.WorkflowExecutionTimeout)
	}
}

func TestOrchestrator_MapStartError_AlreadyStarted(t *testing.T) {
	o := newTestOrchestrator()
	started := serviceerror.NewWorkflowExecutionAlreadyStarted("already running", "request-id", "run-id")

	err := o.mapStartError("example-blog", started)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSyncRunning {
		t.Fatalf("多重起動のエラーが一致しません: %v", err)
	}
}

func TestOrchestrator_MapStartError_Other(t *testing.T) {
	o := newTestOrchestrator()
	cause := errors.New("接続できません")

	err := o.mapStartError("example-blog", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("起動エラーが原因を保持していません: %v", err)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("想定外のAPIエラーに変換されました: %v", apiErr)
	}
}
