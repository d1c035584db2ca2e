// Package assets copies third-party cover images into an S3-compatible
// bucket so stored sifts do not depend on expiring CDN links.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// DefaultMaxImageBytes bounds a downloaded cover.
const DefaultMaxImageBytes = 10 << 20

// S3Config holds bucket settings. Endpoint and UsePathStyle are for MinIO
// and other S3-compatible stores.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
}

// Rehoster copies an image to durable storage and returns its new URL.
type Rehoster interface {
	Rehost(ctx context.Context, sourceURL string) (string, error)
}

// ObjectPutter is the subset of *s3.Client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client from cfg. Without static keys the default
// AWS credential chain is used.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "assets: load aws config")
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Rehoster downloads images over HTTP and uploads them under covers/.
type S3Rehoster struct {
	client   ObjectPutter
	bucket   string
	baseURL  string
	http     *http.Client
	maxBytes int64
	now      func() time.Time
}

// Option configures an S3Rehoster.
type Option func(*S3Rehoster)

// WithHTTPClient overrides the client used to download source images.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *S3Rehoster) {
		r.http = hc
	}
}

// WithMaxBytes overrides the download size limit.
func WithMaxBytes(n int64) Option {
	return func(r *S3Rehoster) {
		r.maxBytes = n
	}
}

// NewS3Rehoster creates an S3Rehoster for cfg.Bucket. Public URLs are built
// from cfg.PublicBaseURL, or the virtual-hosted S3 URL when it is empty.
func NewS3Rehoster(client ObjectPutter, cfg S3Config, opts ...Option) (*S3Rehoster, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("assets: bucket is required")
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
	}

	r := &S3Rehoster{
		client:   client,
		bucket:   cfg.Bucket,
		baseURL:  base,
		http:     &http.Client{Timeout: 20 * time.Second},
		maxBytes: DefaultMaxImageBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Rehost downloads sourceURL and stores it at covers/<unix-ms>-<rand>.<ext>.
func (r *S3Rehoster) Rehost(ctx context.Context, sourceURL string) (string, error) {
	if strings.HasPrefix(sourceURL, r.baseURL+"/") {
		return sourceURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "assets: create request")
	}
	req.Header.Set("Accept", "image/*")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "assets: download")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", eris.Errorf("assets: download: status %d", resp.StatusCode)
	}
	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", eris.Errorf("assets: not an image: %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return "", eris.Wrap(err, "assets: read image")
	}
	if int64(len(data)) > r.maxBytes {
		return "", eris.Errorf("assets: image exceeds %d bytes", r.maxBytes)
	}
	if len(data) == 0 {
		return "", eris.New("assets: empty image")
	}

	key := r.key(contentType)
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(r.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", eris.Wrap(err, "assets: upload")
	}
	return r.baseURL + "/" + key, nil
}

func (r *S3Rehoster) key(contentType string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("covers/%d-%s.%s", r.now().UnixMilli(), suffix, extension(contentType))
}

var extensions = map[string]string{
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/avif":    "avif",
	"image/heic":    "heic",
	"image/svg+xml": "svg",
}

func extension(contentType string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return "jpg"
}
