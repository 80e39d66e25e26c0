package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"clip-metrics/models"
	"clip-metrics/utils"
)

// ErrUnsupportedURL is returned when a URL cannot be resolved to a platform,
// content kind and content id. It is terminal for the run.
var ErrUnsupportedURL = errors.New("unsupported url")

var (
	// tiktokVideoRegexp captures the numeric id after /video/
	tiktokVideoRegexp = regexp.MustCompile(`/video/(\d+)`)
	// tiktokPhotoRegexp captures the numeric id after /photo/
	tiktokPhotoRegexp = regexp.MustCompile(`/photo/(\d+)`)
	// instagramPostRegexp captures the shortcode after /p/
	instagramPostRegexp = regexp.MustCompile(`/p/([A-Za-z0-9_-]+)`)
	// instagramReelRegexp captures the shortcode after /reel/ or /reels/
	instagramReelRegexp = regexp.MustCompile(`/reels?/([A-Za-z0-9_-]+)`)
	// youtubeIDRegexp captures the v= query parameter
	youtubeIDRegexp = regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]+)`)
)

// Resolver classifies source URLs.
type Resolver struct {
	logger *utils.Logger
}

// NewResolver creates a Resolver with the given logger.
func NewResolver(logger *utils.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve classifies raw into a platform, content kind and content id. Any
// missing piece rejects the whole URL with ErrUnsupportedURL.
func (r *Resolver) Resolve(raw string) (*models.SourceURL, error) {
	raw = strings.TrimSpace(raw)

	platform, ok := detectPlatform(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no supported platform in %q", ErrUnsupportedURL, raw)
	}

	kind, pattern, ok := detectKind(platform, raw)
	if !ok {
		return nil, fmt.Errorf("%w: unknown %s content kind in %q", ErrUnsupportedURL, platform, raw)
	}

	match := pattern.FindStringSubmatch(raw)
	if len(match) < 2 {
		return nil, fmt.Errorf("%w: no %s %s id in %q", ErrUnsupportedURL, platform, kind, raw)
	}

	src := &models.SourceURL{
		Raw:       raw,
		Platform:  platform,
		Kind:      kind,
		ContentID: match[1],
		FetchURL:  raw,
	}

	// Photo posts go through the video endpoint; there is no dedicated one.
	if platform == models.TikTok && kind == models.KindPhoto {
		src.FetchURL = strings.Replace(raw, "/photo/", "/video/", 1)
	}

	r.logger.Info("[resolver] %s %s id=%s", platform, kind, src.ContentID)
	return src, nil
}

func detectPlatform(raw string) (models.Platform, bool) {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "tiktok.com"):
		return models.TikTok, true
	case strings.Contains(lower, "instagram.com"):
		return models.Instagram, true
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return models.YouTube, true
	}
	return "", false
}

func detectKind(platform models.Platform, raw string) (models.ContentKind, *regexp.Regexp, bool) {
	switch platform {
	case models.TikTok:
		switch {
		case strings.Contains(raw, "/video/"):
			return models.KindVideo, tiktokVideoRegexp, true
		case strings.Contains(raw, "/photo/"):
			return models.KindPhoto, tiktokPhotoRegexp, true
		}
	case models.Instagram:
		switch {
		case strings.Contains(raw, "/p/"):
			return models.KindPost, instagramPostRegexp, true
		case strings.Contains(raw, "/reels/"), strings.Contains(raw, "/reel/"):
			return models.KindReel, instagramReelRegexp, true
		}
	case models.YouTube:
		return models.KindVideo, youtubeIDRegexp, true
	}
	return "", nil, false
}
