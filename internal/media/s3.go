// Package media загружает медиа постов в S3-совместимое хранилище.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrEmptyName — не задано имя объекта.
var ErrEmptyName = errors.New("media: empty object name")

// S3Config — параметры хранилища.
type S3Config struct {
	// Endpoint — адрес S3 API (пустой — AWS по региону).
	Endpoint string

	Region    string
	Bucket    string
	AccessKey string
	SecretKey string

	// PublicURL — префикс публичного URL объектов бакета (BUCKET_URL).
	PublicURL string

	// Prefix — префикс ключей объектов (например, "posts/").
	Prefix string
}

// S3Uploader загружает локальные файлы в бакет и возвращает публичный URL.
type S3Uploader struct {
	client    *s3.Client
	bucket    string
	publicURL string
	prefix    string
}

// NewS3Uploader создаёт клиент S3. Поддерживает MinIO и другие
// S3-совместимые хранилища (path-style адресация).
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     cfg.AccessKey,
					SecretAccessKey: cfg.SecretKey,
				}, nil
			})))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		prefix:    cfg.Prefix,
	}, nil
}

// Upload загружает файл localPath под именем remoteName.
func (u *S3Uploader) Upload(ctx context.Context, localPath, remoteName string) (string, error) {
	if remoteName == "" {
		return "", ErrEmptyName
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat media: %w", err)
	}

	key := u.prefix + remoteName
	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if ct := mime.TypeByExtension(filepath.Ext(remoteName)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	return u.URL(key), nil
}

// URL возвращает публичный URL объекта.
func (u *S3Uploader) URL(key string) string {
	return u.publicURL + "/" + key
}
