package models

// Platform identifies the short-form video site a URL belongs to.
type Platform string

const (
	TikTok    Platform = "tiktok"
	Instagram Platform = "instagram"
	YouTube   Platform = "youtube"
)

// Platforms lists every supported platform in hand-off scan order.
var Platforms = []Platform{TikTok, Instagram, YouTube}

// ContentKind is the kind of post a URL points at. Legal kinds depend on the platform.
type ContentKind string

const (
	KindPost      ContentKind = "post"
	KindReel      ContentKind = "reel"
	KindSlideshow ContentKind = "slideshow"
	KindVideo     ContentKind = "video"
	KindPhoto     ContentKind = "photo"
)

// SourceURL is a fully resolved input URL. It is only ever built complete.
type SourceURL struct {
	Raw       string
	Platform  Platform
	Kind      ContentKind
	ContentID string

	// FetchURL is the URL handed to the metrics API. It differs from Raw only
	// for TikTok photo posts, which are fetched through the video endpoint.
	FetchURL string
}

// DataFile is the JSON hand-off file holding the raw payload for a platform.
func DataFile(p Platform) string {
	return string(p) + "_data.json"
}

// MetricsFile is the CSV hand-off file holding the normalised record for a platform.
func MetricsFile(p Platform) string {
	return string(p) + "_metrics.csv"
}

// MusicFile is the JSON hand-off file holding the sound popularity lookup.
const MusicFile = "music_data.json"
