package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
)

// SyncStarter はスケジューラが同期を起動するためのインターフェース。
type SyncStarter interface {
	RunSync(ctx context.Context, siteName string) (*SyncOutcome, error)
}

// Scheduler は各サイトのcron式に従って同期を起動する。
// 同じサイトの実行が重なった場合はRunner側のSYNC_RUNNINGで弾かれ、
// スケジューラはスキップとして記録する。
type Scheduler struct {
	starter         SyncStarter
	sites           []config.SiteConfig
	logger          *slog.Logger
	defaultSchedule string
	syncOnStart     bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// defaultScheduleはcron式を持たないサイトに適用される。
func NewScheduler(
	starter SyncStarter,
	sites []config.SiteConfig,
	logger *slog.Logger,
	defaultSchedule string,
	syncOnStart bool,
) *Scheduler {
	return &Scheduler{
		starter:         starter,
		sites:           sites,
		logger:          logger,
		defaultSchedule: defaultSchedule,
		syncOnStart:     syncOnStart,
	}
}

// Start は全サイトのスケジュールを登録してcronを起動し、コンテキストが
// キャンセルされるまでブロックする。停止時は実行中のジョブの完了を待つ。
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()

	for _, site := range s.sites {
		name := site.Name
		spec := site.Schedule
		if spec == "" {
			spec = s.defaultSchedule
		}
		if _, err := c.AddFunc(spec, func() { s.runSite(ctx, name) }); err != nil {
			return fmt.Errorf("サイト %s のスケジュール登録に失敗しました: %w", name, err)
		}
		s.logger.Info("同期スケジュールを登録しました",
			slog.String("site", name),
			slog.String("schedule", spec),
		)
	}

	// 起動直後に1回実行
	if s.syncOnStart {
		for _, site := range s.sites {
			s.runSite(ctx, site.Name)
		}
	}

	c.Start()
	s.logger.Info("同期スケジューラを開始しました",
		slog.Int("sites", len(s.sites)),
	)

	<-ctx.Done()
	stop := c.Stop()
	<-stop.Done()
	s.logger.Info("同期スケジューラを停止しました")
	return nil
}

// runSite は1サイトの同期を起動する。実行中による拒否はスキップとして扱う。
// それ以外の失敗はRunner側で記録済みのため、ここでは何もしない。
func (s *Scheduler) runSite(ctx context.Context, siteName string) {
	if ctx.Err() != nil {
		return
	}

	if _, err := s.starter.RunSync(ctx, siteName); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSyncRunning {
			s.logger.Info("前回の同期が実行中のためスキップします",
				slog.String("site", siteName),
			)
		}
	}
}
