package app

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

// setTestEnv はSQLiteの一時DBを指す最小構成の環境変数を設定する。
// SITES_CONFIGは設定しないため、サイト定義の読み込みで失敗する。
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "sqlite:"+filepath.Join(t.TempDir(), "test.db"))
	t.Setenv("SITES_CONFIG", filepath.Join(t.TempDir(), "missing-sites.json"))
}

// TestRun_ServeCommand_RequiresSiteDefinitions はserveコマンドがDB接続後に
// サイト定義の読み込みまで進むことを検証する。
func TestRun_ServeCommand_RequiresSiteDefinitions(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run(serve) without site definitions should return error")
	}
	if !strings.Contains(err.Error(), "site definitions") {
		t.Errorf("error = %v, want site definitions failure", err)
	}
}

// TestRun_WorkerCommand_RequiresSiteDefinitions はworkerコマンドも同様に
// サイト定義を必須とすることを検証する。
func TestRun_WorkerCommand_RequiresSiteDefinitions(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"worker"})
	if err == nil {
		t.Fatal("Run(worker) without site definitions should return error")
	}
	if !strings.Contains(err.Error(), "site definitions") {
		t.Errorf("error = %v, want site definitions failure", err)
	}
}

// TestRun_DefaultCommand_BehavesLikeServe はデフォルトコマンドがserveと
// 同じ経路を通ることを検証する。
func TestRun_DefaultCommand_BehavesLikeServe(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{})
	if err == nil {
		t.Fatal("Run([]) without site definitions should return error")
	}
	if !strings.Contains(err.Error(), "site definitions") {
		t.Errorf("error = %v, want site definitions failure", err)
	}
}

func TestRun_SyncCommand_RequiresSiteFlag(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"sync"})
	if err == nil {
		t.Fatal("Run(sync) without --site should return error")
	}
	if !strings.Contains(err.Error(), "--site") {
		t.Errorf("error = %v, want --site requirement", err)
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}
