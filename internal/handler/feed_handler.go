package handler

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
)

// FeedHandler は生成済みRSSフィードの配信ハンドラー。
// 同期実行がローカルストレージに保存した最新のフィードをそのまま返す。
// S3/R2に保存する構成ではバケット側のURLを直接配信するため、このルートは使わない。
type FeedHandler struct {
	sites   []config.SiteConfig
	feedDir string
}

// NewFeedHandler はFeedHandlerを生成する。
// feedDirはローカルストレージの出力ディレクトリ（OUTPUT_DIR）。
func NewFeedHandler(sites []config.SiteConfig, feedDir string) *FeedHandler {
	return &FeedHandler{
		sites:   sites,
		feedDir: feedDir,
	}
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ServeFeed は生成済みRSSフィードを配信する。
// GET /feeds/:name.xml
//
// まだ一度も同期が走っておらずフィードが存在しない場合はFEED_NOT_READYを返す。
func (h *FeedHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	siteName := chi.URLParam(r, "name")

	site, ok := findSiteConfig(h.sites, siteName)
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSiteNotFoundError(siteName))
		return
	}

	path := filepath.Join(h.feedDir, filepath.FromSlash(site.FeedKey()))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeAPIErrorResponse(w, http.StatusNotFound, model.NewFeedNotReadyError(siteName))
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// SetupFeedRoutes はフィード配信のルーティングを設定したchi.Routerを返す。
func SetupFeedRoutes(sites []config.SiteConfig, feedDir string) http.Handler {
	r := chi.NewRouter()
	h := NewFeedHandler(sites, feedDir)

	r.Get("/feeds/{name}.xml", h.ServeFeed)

	return r
}

// --- ヘルパー関数 ---

// findSiteConfig はサイト定義を名前で検索する。
func findSiteConfig(sites []config.SiteConfig, name string) (*config.SiteConfig, bool) {
	for i := range sites {
		if sites[i].Name == name {
			return &sites[i], true
		}
	}
	return nil, false
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidParams:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeSiteNotFound, model.ErrCodeFeedNotReady:
		return http.StatusNotFound
	case model.ErrCodeSyncRunning:
		return http.StatusConflict
	case model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
