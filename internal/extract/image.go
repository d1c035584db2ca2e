package extract

import (
	"context"

	"github.com/sells-group/sift/internal/model"
)

// ImageExtractor handles direct image links. It makes no network calls; the
// analysis engine reads the image by URL.
type ImageExtractor struct{}

func (ImageExtractor) Name() string { return "image" }

func (ImageExtractor) Supports(p model.Platform) bool {
	return p == model.PlatformDirectImage
}

func (ImageExtractor) Extract(_ context.Context, targetURL string) (*model.Content, error) {
	return &model.Content{
		ImageURL: targetURL,
		Platform: model.PlatformDirectImage,
		Source:   "image",
	}, nil
}
