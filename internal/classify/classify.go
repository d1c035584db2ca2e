// Package classify maps submitted URLs to a source platform and a canonical
// dedup key.
package classify

import (
	"net/url"
	"path"
	"strings"

	"github.com/sells-group/sift/internal/model"
)

// Classification is the result of classifying a submitted URL.
type Classification struct {
	Platform      model.Platform
	NormalizedURL string
	URL           *url.URL
}

// Host returns the submitted host without a leading "www.".
func (c Classification) Host() string {
	if c.URL == nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(c.URL.Hostname()), "www.")
}

// Raw returns the URL as submitted.
func (c Classification) Raw() string {
	if c.URL == nil {
		return ""
	}
	return c.URL.String()
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".svg":  true,
	".avif": true,
	".heic": true,
}

// Classify validates raw, detects its platform, and computes the normalized URL.
func Classify(raw string) (Classification, error) {
	u, err := parse(raw)
	if err != nil {
		return Classification{}, err
	}
	n, err := normalizeURL(u)
	if err != nil {
		return Classification{}, err
	}
	return Classification{
		Platform:      detectPlatform(n),
		NormalizedURL: n.String(),
		URL:           u,
	}, nil
}

func detectPlatform(u *url.URL) model.Platform {
	host := u.Hostname()
	switch {
	case hostIs(host, "tiktok.com"):
		return model.PlatformTikTok
	case hostIs(host, "instagram.com"):
		return model.PlatformInstagram
	case hostIs(host, "youtube.com") || host == "youtu.be":
		return model.PlatformYouTube
	case imageExtensions[strings.ToLower(path.Ext(u.Path))]:
		return model.PlatformDirectImage
	default:
		return model.PlatformWeb
	}
}

// hostIs reports whether host equals domain or is a subdomain of it.
func hostIs(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
