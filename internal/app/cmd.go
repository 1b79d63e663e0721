package app

import (
	"errors"
	"flag"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandSync は1サイト分の同期を1回だけ実行することを示す。
	CommandSync Command = "sync"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "sync":
		return CommandSync
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// SyncFlags はsyncサブコマンドの引数。
type SyncFlags struct {
	// Site は同期対象のサイト名。必須。
	Site string
	// Full がtrueの場合、差分検出を行わず全URLを処理対象にする。
	Full bool
	// Baseline がtrueの場合、現在のURLを処理済みとして登録するだけで
	// 分析もアーティファクト生成も行わない。
	Baseline bool
}

// ParseSyncFlags はsyncサブコマンドのフラグを解析する。
// argsにはサブコマンド名を除いた引数を渡す。
func ParseSyncFlags(args []string) (SyncFlags, error) {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var flags SyncFlags
	fs.StringVar(&flags.Site, "site", "", "site name to sync")
	fs.BoolVar(&flags.Full, "full", false, "process every current URL instead of changes only")
	fs.BoolVar(&flags.Baseline, "baseline", false, "register current URLs as already processed and exit")

	if err := fs.Parse(args); err != nil {
		return SyncFlags{}, err
	}
	if flags.Site == "" {
		return SyncFlags{}, errors.New("--site is required")
	}
	return flags, nil
}
