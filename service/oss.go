package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// AssetStore persists generated files and returns the URL they are served from.
type AssetStore interface {
	Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error)
	UploadFromURL(ctx context.Context, sourceURL, folder, prefix string) (string, error)
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string
}

// Generated images are small; larger downloads are rejected.
const maxDownloadSize = 64 << 20

// Storage is an S3-compatible object store backed by MinIO.
type Storage struct {
	client     *minio.Client
	bucket     string
	region     string
	publicURL  string
	httpClient *http.Client
	log        zerolog.Logger

	// bucketReady is set once the bucket is known to exist. Failures are not
	// remembered so the next upload checks again.
	bucketMu    sync.Mutex
	bucketReady bool
}

func NewStorage(cfg StorageConfig, log zerolog.Logger) (*Storage, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	return &Storage{
		client:     client,
		bucket:     cfg.Bucket,
		region:     region,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		log:        log.With().Str("component", "storage").Logger(),
	}, nil
}

func (s *Storage) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		s.log.Info().Str("bucket", s.bucket).Msg("bucket created")
	}
	s.bucketReady = true
	return nil
}

// Upload stores r under objectName. size may be -1 when unknown.
func (s *Storage) Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = contentTypeFor(objectName)
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", objectName, err)
	}
	s.log.Debug().Str("object", objectName).Msg("object uploaded")
	return s.objectURL(ctx, objectName)
}

// UploadFromURL downloads sourceURL and re-hosts it under folder.
func (s *Storage) UploadFromURL(ctx context.Context, sourceURL, folder, prefix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ext := ".pdf"
	if strings.Contains(contentType, "image") {
		ext = ".png"
	}
	name := ObjectName(folder, prefix+ext)

	if resp.ContentLength >= 0 {
		if resp.ContentLength > maxDownloadSize {
			return "", fmt.Errorf("download %s: %d bytes exceeds limit", sourceURL, resp.ContentLength)
		}
		return s.Upload(ctx, name, resp.Body, resp.ContentLength, contentType)
	}

	// Unknown length: buffer so the object goes up in a single PUT.
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", sourceURL, err)
	}
	if len(data) > maxDownloadSize {
		return "", fmt.Errorf("download %s: exceeds %d bytes", sourceURL, maxDownloadSize)
	}
	return s.Upload(ctx, name, bytes.NewReader(data), int64(len(data)), contentType)
}

func (s *Storage) objectURL(ctx context.Context, objectName string) (string, error) {
	if s.publicURL != "" {
		return s.publicURL + "/" + objectName, nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, 72*time.Hour, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectName, err)
	}
	return u.String(), nil
}

// ObjectName builds a collision-free key such as books/{id}/covers/1700000000-<uuid>-cover.png.
func ObjectName(folder, filename string) string {
	return fmt.Sprintf("%s/%d-%s-%s", strings.Trim(folder, "/"), time.Now().UnixMilli(), uuid.NewString(), filename)
}

func contentTypeFor(objectName string) string {
	switch strings.ToLower(filepath.Ext(objectName)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".epub":
		return "application/epub+zip"
	}
	return "application/octet-stream"
}
