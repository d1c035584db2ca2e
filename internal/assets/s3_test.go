package assets

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPutter struct {
	mock.Mock
	body []byte
}

func (m *MockPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if in.Body != nil {
		m.body, _ = io.ReadAll(in.Body)
	}
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func imageServer(t *testing.T, contentType string, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRehost(t *testing.T) {
	srv := imageServer(t, "image/png", "\x89PNG data")
	m := new(MockPutter)
	m.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "sift-assets" && aws.ToString(in.ContentType) == "image/png"
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	r, err := NewS3Rehoster(m, S3Config{Bucket: "sift-assets", PublicBaseURL: "https://assets.example.com/"})
	require.NoError(t, err)
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }

	got, err := r.Rehost(context.Background(), srv.URL+"/cover")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^https://assets\.example\.com/covers/1700000000000-[0-9a-f]{8}\.png$`), got)
	assert.Equal(t, "\x89PNG data", string(m.body))
	m.AssertExpectations(t)
}

func TestRehost_DefaultBaseURL(t *testing.T) {
	srv := imageServer(t, "image/webp", "RIFF")
	m := new(MockPutter)
	m.On("PutObject", mock.Anything, mock.Anything).Return(&s3.PutObjectOutput{}, nil)

	r, err := NewS3Rehoster(m, S3Config{Bucket: "b", Region: "eu-west-1"})
	require.NoError(t, err)

	got, err := r.Rehost(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "https://b.s3.eu-west-1.amazonaws.com/covers/"))
	assert.True(t, strings.HasSuffix(got, ".webp"))
}

func TestRehost_AlreadyHosted(t *testing.T) {
	m := new(MockPutter)
	r, err := NewS3Rehoster(m, S3Config{Bucket: "b", PublicBaseURL: "https://assets.example.com"})
	require.NoError(t, err)

	got, err := r.Rehost(context.Background(), "https://assets.example.com/covers/1-abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://assets.example.com/covers/1-abc.jpg", got)
	m.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}

func TestRehost_Failures(t *testing.T) {
	t.Run("not an image", func(t *testing.T) {
		srv := imageServer(t, "text/html", "<html></html>")
		r, _ := NewS3Rehoster(new(MockPutter), S3Config{Bucket: "b"})
		_, err := r.Rehost(context.Background(), srv.URL)
		assert.ErrorContains(t, err, "not an image")
	})

	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()
		r, _ := NewS3Rehoster(new(MockPutter), S3Config{Bucket: "b"})
		_, err := r.Rehost(context.Background(), srv.URL)
		assert.ErrorContains(t, err, "status 404")
	})

	t.Run("too large", func(t *testing.T) {
		srv := imageServer(t, "image/jpeg", strings.Repeat("x", 64))
		r, _ := NewS3Rehoster(new(MockPutter), S3Config{Bucket: "b"}, WithMaxBytes(16))
		_, err := r.Rehost(context.Background(), srv.URL)
		assert.ErrorContains(t, err, "exceeds")
	})

	t.Run("upload error", func(t *testing.T) {
		srv := imageServer(t, "image/jpeg", "jpegdata")
		m := new(MockPutter)
		m.On("PutObject", mock.Anything, mock.Anything).Return(nil, eris.New("access denied"))
		r, _ := NewS3Rehoster(m, S3Config{Bucket: "b"})
		_, err := r.Rehost(context.Background(), srv.URL)
		assert.ErrorContains(t, err, "assets: upload")
	})
}

func TestNewS3Rehoster_RequiresBucket(t *testing.T) {
	_, err := NewS3Rehoster(new(MockPutter), S3Config{})
	assert.Error(t, err)
}

func TestNewS3Client(t *testing.T) {
	c, err := NewS3Client(context.Background(), S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", extension("image/jpeg"))
	assert.Equal(t, "svg", extension("image/svg+xml"))
	assert.Equal(t, "jpg", extension("image/x-unknown"))
}
