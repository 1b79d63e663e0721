package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// コンパイル時のインターフェース実装チェック
var _ Provider = (*LocalProvider)(nil)

// LocalProvider は出力ディレクトリ配下にファイルとして保存する。
// 一時ファイルに書いてからリネームするため、読み手が書きかけの
// ファイルを見ることはない。
type LocalProvider struct {
	baseDir string
	logger  *slog.Logger
}

// NewLocalProvider はLocalProviderの新しいインスタンスを生成する。
func NewLocalProvider(baseDir string, logger *slog.Logger) *LocalProvider {
	return &LocalProvider{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Name は保存先の名前を返す。
func (p *LocalProvider) Name() string {
	return "local"
}

// Save はキーに対応するパスへデータを書き込み、保存先パスを返す。
// キーに含まれるサブディレクトリ（feeds/ など）は必要に応じて作成する。
func (p *LocalProvider) Save(_ context.Context, key, _ string, data []byte) (string, error) {
	path := filepath.Join(p.baseDir, filepath.FromSlash(key))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("保存先へのリネームに失敗しました: %w", err)
	}

	p.logger.Debug("成果物をローカルに保存しました",
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)
	return path, nil
}
