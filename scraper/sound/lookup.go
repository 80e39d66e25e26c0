// Package sound scrapes the public TikTok sound page for the number of
// videos that use a sound.
package sound

import (
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"clip-metrics/models"
	"clip-metrics/utils"
)

// ErrSoundUnavailable is logged when the page or its count node is missing.
// Lookup never returns it; the run continues without a popularity count.
var ErrSoundUnavailable = errors.New("sound popularity unavailable")

// countSelector locates the video count heading on the sound page.
const countSelector = `h2[data-e2e="music-video-count"]`

var slugReplacer = strings.NewReplacer(
	" ", "-",
	"(", "", ")", "", ",", "", `"`, "", "!", "", ".", "",
)

// Lookup resolves sound popularity counts.
type Lookup struct {
	baseURL  string
	renderer Renderer
	logger   *utils.Logger
}

// NewLookup creates a Lookup building page URLs under baseURL.
func NewLookup(baseURL string, renderer Renderer, logger *utils.Logger) *Lookup {
	return &Lookup{baseURL: baseURL, renderer: renderer, logger: logger}
}

// PageURL builds the canonical sound page URL from the title and sound id.
func PageURL(baseURL, title, soundID string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + slugReplacer.Replace(title) + "-" + soundID
}

// Lookup fetches the sound page once and extracts its popularity count. It
// never fails: any problem yields models.NotFound.
func (l *Lookup) Lookup(ctx context.Context, title, soundID string) models.EnrichmentResult {
	result := models.EnrichmentResult{
		SoundPageURL:    PageURL(l.baseURL, title, soundID),
		PopularityCount: models.NotFound,
	}

	html, err := l.renderer.Render(ctx, result.SoundPageURL)
	if err != nil {
		l.logger.Warn("[sound] %v: %v", ErrSoundUnavailable, err)
		return result
	}

	count := ExtractCount(html)
	if count == models.NotFound {
		l.logger.Warn("[sound] %v: no count node on %s", ErrSoundUnavailable, result.SoundPageURL)
		return result
	}

	result.PopularityCount = count
	l.logger.Info("[sound] %s is used in %s videos", soundID, count)
	return result
}

// ExtractCount reads the popularity count from sound page markup. Thousands
// separators and a trailing unit word are dropped; abbreviated counts such
// as "1.2M" are returned as written.
func ExtractCount(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.NotFound
	}

	node := doc.Find(countSelector).First()
	if node.Length() == 0 {
		return models.NotFound
	}

	fields := strings.Fields(node.Text())
	if len(fields) == 0 {
		return models.NotFound
	}
	return strings.ReplaceAll(fields[0], ",", "")
}
