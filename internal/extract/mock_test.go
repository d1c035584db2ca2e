package extract

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/pkg/apify"
)

// MockApify implements apify.Client for testing.
type MockApify struct {
	mock.Mock
}

func (m *MockApify) RunSync(ctx context.Context, actorID string, input any, opts ...apify.RunOption) ([]apify.Item, error) {
	args := m.Called(ctx, actorID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]apify.Item), args.Error(1)
}

// stubExtractor is a scripted strategy that counts calls.
type stubExtractor struct {
	name      string
	platforms []model.Platform
	content   *model.Content
	err       error
	calls     atomic.Int32
	block     bool
}

func (s *stubExtractor) Name() string { return s.name }

func (s *stubExtractor) Supports(p model.Platform) bool {
	for _, sp := range s.platforms {
		if sp == p {
			return true
		}
	}
	return false
}

func (s *stubExtractor) Extract(ctx context.Context, _ string) (*model.Content, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	c := *s.content
	return &c, nil
}
