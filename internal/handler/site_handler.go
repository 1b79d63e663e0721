package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
)

// StateServiceInterface はサイトハンドラーが必要とする状態追跡サービスのインターフェース。
type StateServiceInterface interface {
	// GetSite は指定サイトの同期状態を返す。未登録の場合はnilを返す。
	GetSite(ctx context.Context, siteName string) (*model.SiteState, error)
	// ListSites は登録済みの全サイトの同期状態を返す。
	ListSites(ctx context.Context) ([]*model.SiteState, error)
	// Stats は指定サイトのURL状態集計を返す。
	Stats(ctx context.Context, siteName string) (*model.SiteStats, error)
	// Reset は指定サイトの全URL状態とサイト状態を物理削除する。
	Reset(ctx context.Context, siteName string) error
}

// SyncRunner は同期実行のトリガーインターフェース。
// cronワーカー内のランナーまたはTemporalオーケストレーターが実装する。
// 同じサイトの同期が既に実行中の場合はSYNC_RUNNINGエラーを返す。
type SyncRunner interface {
	// RunSyncAsync は指定サイトの同期を非同期に開始し、実行IDを返す。
	RunSyncAsync(ctx context.Context, siteName string) (string, error)
}

// SiteHandler はサイト管理のHTTPハンドラー。
type SiteHandler struct {
	state  StateServiceInterface
	runner SyncRunner
	sites  []config.SiteConfig
}

// NewSiteHandler はSiteHandlerを生成する。
func NewSiteHandler(state StateServiceInterface, runner SyncRunner, sites []config.SiteConfig) *SiteHandler {
	return &SiteHandler{
		state:  state,
		runner: runner,
		sites:  sites,
	}
}

// siteResponse はサイト一覧のAPIレスポンス1件分。
// Configuredはサイト定義に存在するか、Trackedはストアに状態レコードが
// あるかを示す。定義から外した後もストアに状態が残っているサイトは
// Configured=false, Tracked=trueとして現れる。
type siteResponse struct {
	Name        string  `json:"name"`
	SitemapURL  string  `json:"sitemap_url"`
	Schedule    string  `json:"schedule,omitempty"`
	Incremental bool    `json:"incremental"`
	Analyze     bool    `json:"analyze"`
	LastRun     *string `json:"last_run"`
	Configured  bool    `json:"configured"`
	Tracked     bool    `json:"tracked"`
}

// siteStatsResponse はサイト統計のAPIレスポンス。
type siteStatsResponse struct {
	Site      string `json:"site"`
	Total     int    `json:"total"`
	Active    int    `json:"active"`
	Pending   int    `json:"pending"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Deleted   int    `json:"deleted"`
}

// syncAcceptedResponse は同期トリガー受付のAPIレスポンス。
type syncAcceptedResponse struct {
	Site   string `json:"site"`
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// resetResponse はサイトリセットのAPIレスポンス。
type resetResponse struct {
	Site   string `json:"site"`
	Status string `json:"status"`
}

// ListSites はサイト一覧を返す。
// GET /api/sites
//
// サイト定義とストア上の同期状態をマージして返す。定義順が先頭に並び、
// 定義から外れたがストアに残っているサイトが末尾に続く。
func (h *SiteHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	tracked, err := h.state.ListSites(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	trackedByName := make(map[string]*model.SiteState, len(tracked))
	for _, t := range tracked {
		trackedByName[t.SiteName] = t
	}

	responses := make([]siteResponse, 0, len(h.sites)+len(tracked))
	for i := range h.sites {
		site := &h.sites[i]
		resp := siteResponse{
			Name:        site.Name,
			SitemapURL:  site.SitemapURL,
			Schedule:    site.Schedule,
			Incremental: site.Incremental(),
			Analyze:     site.Analyze,
			Configured:  true,
		}
		if t, ok := trackedByName[site.Name]; ok {
			resp.Tracked = true
			resp.LastRun = formatLastRun(t.LastRun)
			delete(trackedByName, site.Name)
		}
		responses = append(responses, resp)
	}

	// 定義から外れたサイトの残存状態。ListSitesの返却順を保つため元の列を再走査する。
	for _, t := range tracked {
		if _, ok := trackedByName[t.SiteName]; !ok {
			continue
		}
		responses = append(responses, siteResponse{
			Name:       t.SiteName,
			SitemapURL: t.SitemapURL,
			LastRun:    formatLastRun(t.LastRun),
			Tracked:    true,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"sites": responses})
}

// GetSiteStats はサイトのURL状態集計を返す。
// GET /api/sites/:name/stats
//
// 定義にもストアにも存在しないサイトはSITE_NOT_FOUNDを返す。
// 定義済みでまだ一度も同期していないサイトはすべて0の集計を返す。
func (h *SiteHandler) GetSiteStats(w http.ResponseWriter, r *http.Request) {
	siteName := chi.URLParam(r, "name")

	if _, configured := findSiteConfig(h.sites, siteName); !configured {
		state, err := h.state.GetSite(r.Context(), siteName)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if state == nil {
			writeAPIErrorResponse(w, http.StatusNotFound, model.NewSiteNotFoundError(siteName))
			return
		}
	}

	stats, err := h.state.Stats(r.Context(), siteName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(siteStatsResponse{
		Site:      stats.SiteName,
		Total:     stats.Total,
		Active:    stats.Active,
		Pending:   stats.Pending,
		Processed: stats.Processed,
		Failed:    stats.Failed,
		Deleted:   stats.Deleted,
	})
}

// TriggerSync はサイトの同期を非同期に開始する。
// POST /api/sites/:name/sync
//
// 受け付けた時点で202と実行IDを返し、同期自体はバックグラウンドで進む。
// 同じサイトの同期が実行中の場合はSYNC_RUNNING（409）を返す。
func (h *SiteHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	siteName := chi.URLParam(r, "name")

	if _, configured := findSiteConfig(h.sites, siteName); !configured {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSiteNotFoundError(siteName))
		return
	}

	runID, err := h.runner.RunSyncAsync(r.Context(), siteName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(syncAcceptedResponse{
		Site:   siteName,
		RunID:  runID,
		Status: "accepted",
	})
}

// ResetSite はサイトの全URL状態を削除する。
// POST /api/sites/:name/reset
//
// 次回の同期が全URLを新規として扱うようになる破壊的操作。冪等に実行できる。
func (h *SiteHandler) ResetSite(w http.ResponseWriter, r *http.Request) {
	siteName := chi.URLParam(r, "name")

	if _, configured := findSiteConfig(h.sites, siteName); !configured {
		state, err := h.state.GetSite(r.Context(), siteName)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if state == nil {
			writeAPIErrorResponse(w, http.StatusNotFound, model.NewSiteNotFoundError(siteName))
			return
		}
	}

	if err := h.state.Reset(r.Context(), siteName); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resetResponse{
		Site:   siteName,
		Status: "reset",
	})
}

// SetupSiteRoutes はサイト管理関連のルーティングを設定したchi.Routerを返す。
// syncLimitMiddleware が nil でない場合、同期トリガーとリセットに専用レート制限を適用する。
func SetupSiteRoutes(state StateServiceInterface, runner SyncRunner, sites []config.SiteConfig, syncLimitMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	h := NewSiteHandler(state, runner, sites)

	r.Route("/api/sites", func(r chi.Router) {
		r.Get("/", h.ListSites)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/stats", h.GetSiteStats)

			if syncLimitMiddleware != nil {
				r.With(syncLimitMiddleware).Post("/sync", h.TriggerSync)
				r.With(syncLimitMiddleware).Post("/reset", h.ResetSite)
			} else {
				r.Post("/sync", h.TriggerSync)
				r.Post("/reset", h.ResetSite)
			}
		})
	})

	return r
}

// formatLastRun は最終実行時刻をRFC3339文字列に変換する。未実行時はnil。
func formatLastRun(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
