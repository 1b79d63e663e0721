package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// コンパイル時のインターフェース実装チェック
var _ Provider = (*S3Provider)(nil)

// S3Provider はS3互換オブジェクトストレージへ保存する。
// Cloudflare R2を想定している（region "auto"）が、エンドポイントを
// 差し替えれば任意のS3互換ストレージで動く。
type S3Provider struct {
	client        *minio.Client
	bucket        string
	endpoint      string
	publicBaseURL string
	logger        *slog.Logger
}

// NewS3Provider はS3Providerの新しいインスタンスを生成する。
// endpointはスキーム付きURL（https://<account>.r2.cloudflarestorage.com）で
// 指定する。publicBaseURLが設定されている場合、Saveは公開URLを返す。
func NewS3Provider(endpoint, accessKey, secretKey, bucket, region, publicBaseURL string, logger *slog.Logger) (*S3Provider, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3バケット名は必須です")
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("S3エンドポイントURLが不正です: %s", endpoint)
	}

	client, err := minio.New(parsed.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: parsed.Scheme != "http",
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("S3クライアントの作成に失敗しました: %w", err)
	}

	return &S3Provider{
		client:        client,
		bucket:        bucket,
		endpoint:      strings.TrimSuffix(endpoint, "/"),
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Name は保存先の名前を返す。
func (p *S3Provider) Name() string {
	return "s3"
}

// Save はオブジェクトをアップロードし、アクセス用の場所を返す。
// Content-Typeが空の場合はキーの拡張子から推定する。
func (p *S3Provider) Save(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = inferContentType(key)
	}

	_, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("オブジェクト %s のアップロードに失敗しました: %w", key, err)
	}

	location := p.objectLocation(key)
	p.logger.Info("成果物をS3にアップロードしました",
		slog.String("bucket", p.bucket),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return location, nil
}

// objectLocation はオブジェクトの参照先URLを組み立てる。
// 公開ベースURLが設定されていればそれを、なければパス形式の
// エンドポイントURLを使う。
func (p *S3Provider) objectLocation(key string) string {
	if p.publicBaseURL != "" {
		return p.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("%s/%s/%s", p.endpoint, p.bucket, key)
}
