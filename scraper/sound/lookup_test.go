package sound

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clip-metrics/models"
	"clip-metrics/utils"
)

const soundPage = `<html><body>
<h1 data-e2e="music-title">original sound</h1>
<h2 data-e2e="music-video-count"><strong>1,532 videos</strong></h2>
</body></html>`

type stubRenderer struct {
	html string
	err  error
	urls []string
}

func (s *stubRenderer) Render(_ context.Context, pageURL string) (string, error) {
	s.urls = append(s.urls, pageURL)
	return s.html, s.err
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		title, id, want string
	}{
		{"original sound", "7001", "https://www.tiktok.com/music/original-sound-7001"},
		{`Espresso (Sped Up), "Live"!`, "42", "https://www.tiktok.com/music/Espresso-Sped-Up-Live-42"},
		{"Mr. Brightside", "9", "https://www.tiktok.com/music/Mr-Brightside-9"},
		{"", "5", "https://www.tiktok.com/music/-5"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PageURL("https://www.tiktok.com/music/", tt.title, tt.id))
	}
	assert.Equal(t, "https://x.test/music/a-1", PageURL("https://x.test/music", "a", "1"))
}

func TestExtractCount(t *testing.T) {
	tests := []struct {
		name, html, want string
	}{
		{"count with unit", soundPage, "1532"},
		{"abbreviated", `<h2 data-e2e="music-video-count">1.2M videos</h2>`, "1.2M"},
		{"zero", `<h2 data-e2e="music-video-count">0 videos</h2>`, "0"},
		{"empty node", `<h2 data-e2e="music-video-count">  </h2>`, models.NotFound},
		{"other heading", `<h2 data-e2e="user-count">12 videos</h2>`, models.NotFound},
		{"no markup", ``, models.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCount(tt.html))
		})
	}
}

func TestLookupFound(t *testing.T) {
	r := &stubRenderer{html: soundPage}
	l := NewLookup("https://www.tiktok.com/music/", r, utils.Discard())

	got := l.Lookup(context.Background(), "original sound", "7001")

	assert.Equal(t, "https://www.tiktok.com/music/original-sound-7001", got.SoundPageURL)
	assert.Equal(t, "1532", got.PopularityCount)
	assert.Len(t, r.urls, 1)
}

func TestLookupFailsSoft(t *testing.T) {
	for name, r := range map[string]*stubRenderer{
		"render error": {err: errors.New("connection reset")},
		"missing node": {html: "<html><body>captcha</body></html>"},
	} {
		t.Run(name, func(t *testing.T) {
			l := NewLookup("https://www.tiktok.com/music/", r, utils.Discard())

			got := l.Lookup(context.Background(), "song", "1")

			assert.Equal(t, models.NotFound, got.PopularityCount)
			assert.Len(t, r.urls, 1, "a failed lookup is not retried")
		})
	}
}

func TestHTTPRenderer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/music/song-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		_, _ = w.Write([]byte(soundPage))
	}))
	defer srv.Close()

	l := NewLookup(srv.URL+"/music/", &HTTPRenderer{Client: srv.Client()}, utils.Discard())

	got := l.Lookup(context.Background(), "song", "1")
	assert.Equal(t, "1532", got.PopularityCount)

	missing := l.Lookup(context.Background(), "other", "2")
	assert.Equal(t, models.NotFound, missing.PopularityCount)
}

func TestHTTPRendererStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := (&HTTPRenderer{}).Render(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestCountWait(t *testing.T) {
	assert.Equal(t, 15*time.Second, countWait(45*time.Second))
	assert.Equal(t, 15*time.Second, countWait(2*time.Minute))
	assert.Equal(t, time.Second, countWait(3*time.Second))
}
