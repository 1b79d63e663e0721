package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewS3Provider_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "not a url", "/path-only"} {
		if _, err := NewS3Provider(endpoint, "key", "secret", "bucket", "auto", "", discardLogger()); err == nil {
			t.Errorf("不正なエンドポイント %q でエラーが返されるべきです", endpoint)
		}
	}
}

func TestNewS3Provider_RequiresBucket(t *testing.T) {
	if _, err := NewS3Provider("https://acc.r2.cloudflarestorage.com", "key", "secret", "", "auto", "", discardLogger()); err == nil {
		t.Error("バケット名なしでエラーが返されるべきです")
	}
}

func TestS3Provider_ObjectLocation(t *testing.T) {
	withPublic, err := NewS3Provider("https://acc.r2.cloudflarestorage.com", "key", "secret", "artifacts", "auto",
		"https://cdn.example.com/", discardLogger())
	if err != nil {
		t.Fatalf("プロバイダ作成に失敗しました: %v", err)
	}
	if got := withPublic.objectLocation("feeds/site.xml"); got != "https://cdn.example.com/feeds/site.xml" {
		t.Errorf("公開URLが一致しません: %s", got)
	}

	withoutPublic, err := NewS3Provider("https://acc.r2.cloudflarestorage.com", "key", "secret", "artifacts", "auto",
		"", discardLogger())
	if err != nil {
		t.Fatalf("プロバイダ作成に失敗しました: %v", err)
	}
	if got := withoutPublic.objectLocation("feeds/site.xml"); got != "https://acc.r2.cloudflarestorage.com/artifacts/feeds/site.xml" {
		t.Errorf("パス形式URLが一致しません: %s", got)
	}
}

func TestS3Provider_SaveUploadsObject(t *testing.T) {
	var gotMethod, gotPath, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider, err := NewS3Provider(server.URL, "key", "secret", "artifacts", "auto", "", discardLogger())
	if err != nil {
		t.Fatalf("プロバイダ作成に失敗しました: %v", err)
	}

	location, err := provider.Save(context.Background(), "feeds/site.xml", "", []byte("<rss/>"))
	if err != nil {
		t.Fatalf("アップロードに失敗しました: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("HTTPメソッドが一致しません: %s", gotMethod)
	}
	if gotPath != "/artifacts/feeds/site.xml" {
		t.Errorf("アップロード先パスが一致しません: %s", gotPath)
	}
	if !strings.Contains(gotContentType, "application/rss+xml") {
		t.Errorf("拡張子からのContent-Type推定が効いていません: %s", gotContentType)
	}
	if !strings.HasSuffix(location, "/artifacts/feeds/site.xml") {
		t.Errorf("保存先の場所が一致しません: %s", location)
	}
}

func TestS3Provider_Name(t *testing.T) {
	provider, err := NewS3Provider("https://acc.r2.cloudflarestorage.com", "key", "secret", "artifacts", "auto", "", discardLogger())
	if err != nil {
		t.Fatalf("プロバイダ作成に失敗しました: %v", err)
	}
	if provider.Name() != "s3" {
		t.Errorf("保存先の名前が一致しません: %s", provider.Name())
	}
}
