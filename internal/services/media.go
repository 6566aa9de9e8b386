package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/taranggg/lms-sub000/internal/config"
	"github.com/taranggg/lms-sub000/internal/metrics"
	"github.com/taranggg/lms-sub000/internal/models"
)

// MediaStorage writes an object and returns the URL clients fetch it from.
type MediaStorage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// NewMediaStorage picks the backend named by cfg.StorageType.
func NewMediaStorage(ctx context.Context, cfg *config.Config) (MediaStorage, error) {
	switch cfg.StorageType {
	case "s3":
		return NewS3Storage(ctx, S3Options{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			PublicURL:    cfg.S3PublicURL,
		})
	default:
		return NewLocalStorage(cfg.StoragePath, cfg.PublicBaseURL)
	}
}

type LocalStorage struct {
	root    string
	baseURL string
}

func NewLocalStorage(root, publicBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStorage{root: root, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *LocalStorage) Root() string { return s.root }

func (s *LocalStorage) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(dst)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	return s.baseURL + "/uploads/" + key, nil
}

type S3Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	PublicURL    string
}

type S3Storage struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

func NewS3Storage(ctx context.Context, opts S3Options) (*S3Storage, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET_NAME is required for s3 storage")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		publicURL = defaultS3PublicURL(opts)
	}

	return &S3Storage{client: client, bucket: opts.Bucket, publicURL: publicURL}, nil
}

func defaultS3PublicURL(opts S3Options) string {
	if opts.Endpoint != "" {
		return strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
}

func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

// MediaTypeFromMIME maps a MIME type onto a chat message kind by prefix.
func MediaTypeFromMIME(mimeType string) models.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.MessageImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.MessageVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return models.MessageAudio
	default:
		return models.MessageFile
	}
}

type MediaService struct {
	storage  MediaStorage
	maxBytes int64
	now      func() time.Time
}

func NewMediaService(storage MediaStorage, maxBytes int64) *MediaService {
	return &MediaService{storage: storage, maxBytes: maxBytes, now: time.Now}
}

func (m *MediaService) MaxBytes() int64 { return m.maxBytes }

// Upload stores one file and reports its public URL and message kind.
// An empty or generic contentType is resolved by sniffing the first bytes.
func (m *MediaService) Upload(ctx context.Context, filename, contentType string, size int64, body io.Reader) (*models.MediaUpload, error) {
	if size <= 0 {
		return nil, &ValidationError{Fields: map[string]string{"file": "is required"}}
	}
	if m.maxBytes > 0 && size > m.maxBytes {
		return nil, &ValidationError{Fields: map[string]string{
			"file": fmt.Sprintf("must be at most %d MB", m.maxBytes/(1024*1024)),
		}}
	}

	br := bufio.NewReaderSize(body, 512)
	contentType = resolveContentType(contentType, br)
	kind := MediaTypeFromMIME(contentType)

	now := m.now().UTC()
	key := path.Join("chat", now.Format("2006"), now.Format("01"), uuid.NewString()+extensionFor(filename, contentType))

	url, err := m.storage.Put(ctx, key, br, size, contentType)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to store media", "key", key, "error", err)
		return nil, &StoreError{Op: "store media", Err: err}
	}

	metrics.MediaUploads.WithLabelValues(string(kind)).Inc()
	return &models.MediaUpload{FileURL: url, Type: kind}, nil
}

func resolveContentType(declared string, br *bufio.Reader) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	head, _ := br.Peek(512)
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	return mediaType
}

func extensionFor(filename, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && len(ext) <= 10 {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
