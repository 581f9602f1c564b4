// Package storage はS3互換オブジェクトストレージへの署名付きURL発行と削除を提供する。
// ファイル本体はブラウザから署名付きURLで直接送受信され、このサービスを経由しない。
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultURLTTL は署名付きURLのデフォルト有効期間。
const DefaultURLTTL = time.Hour

// ErrNotConfigured はストレージ設定が不足している場合のエラー。
var ErrNotConfigured = errors.New("object storage is not configured")

// ObjectStore はオブジェクトストレージの操作。S3Storeが実装する。
type ObjectStore interface {
	// PresignPut はアップロード用の署名付きURLを返す。
	PresignPut(ctx context.Context, bucket, key, contentType string) (string, error)
	// PresignGet はダウンロード用の署名付きURLを返す。
	// downloadNameが空でない場合はContent-Dispositionでファイル名を指定する。
	PresignGet(ctx context.Context, bucket, key, downloadName string) (string, error)
	// Delete はオブジェクトを削除する。存在しないオブジェクトの削除は成功とする。
	Delete(ctx context.Context, bucket, key string) error
}

// Config はS3Storeの設定。
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	URLTTL    time.Duration
}

// S3Store はaws-sdk-go-v2によるObjectStoreの実装。
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	ttl     time.Duration
}

// NewS3Store はS3Storeを生成する。Endpointが指定された場合はパス形式でアクセスする（MinIO等）。
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.Region == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		ttl:     ttl,
	}, nil
}

// PresignPut はアップロード用の署名付きURLを返す。
func (s *S3Store) PresignPut(ctx context.Context, bucket, key, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	req, err := s.presign.PresignPutObject(ctx, in, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload: %w", err)
	}
	return req.URL, nil
}

// PresignGet はダウンロード用の署名付きURLを返す。
func (s *S3Store) PresignGet(ctx context.Context, bucket, key, downloadName string) (string, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if downloadName != "" {
		in.ResponseContentDisposition = aws.String(ContentDisposition(downloadName))
	}
	req, err := s.presign.PresignGetObject(ctx, in, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}
	return req.URL, nil
}

// Delete はオブジェクトを削除する。
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// ContentDisposition はダウンロード時のファイル名を指定するヘッダー値を返す。
// 非ASCIIのファイル名はRFC 2231形式でエンコードされる。
func ContentDisposition(fileName string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
	if v == "" {
		return "attachment"
	}
	return v
}

// Unavailable は設定のない環境で使うObjectStore。全操作がErrNotConfiguredを返す。
type Unavailable struct{}

func (Unavailable) PresignPut(context.Context, string, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (Unavailable) PresignGet(context.Context, string, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (Unavailable) Delete(context.Context, string, string) error {
	return ErrNotConfigured
}
