package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clip-metrics/models"
	"clip-metrics/scraper/metrics"
)

type stubExtractor struct {
	fields map[string]any
	err    error
	calls  int
}

func (s *stubExtractor) Extract(context.Context, []byte) (map[string]any, error) {
	s.calls++
	return s.fields, s.err
}

func normalize(t *testing.T, n *Normalizer, p models.Platform, raw string, e *models.EnrichmentResult) models.Record {
	t.Helper()
	rec, err := n.Normalize(context.Background(), p, []byte(raw), e)
	require.NoError(t, err)
	return rec
}

func TestNormalizeEmptyPayloadYieldsDefaults(t *testing.T) {
	n := NewNormalizer(newTestLogger(), nil)

	for _, raw := range []string{`{}`, `{"data":{}}`, `{"data":[]}`, `{"data":null}`} {
		tt := normalize(t, n, models.TikTok, raw, nil).(*models.TikTokRecord)
		assert.Equal(t, &models.TikTokRecord{}, tt, raw)

		ig := normalize(t, n, models.Instagram, raw, nil).(*models.InstagramRecord)
		assert.Equal(t, &models.InstagramRecord{}, ig, raw)

		yt := normalize(t, n, models.YouTube, raw, nil).(*models.YouTubeRecord)
		assert.Equal(t, &models.YouTubeRecord{}, yt, raw)
	}
}

func TestNormalizeRejectsInvalidInput(t *testing.T) {
	n := NewNormalizer(newTestLogger(), nil)

	_, err := n.Normalize(context.Background(), models.TikTok, []byte(`{"data":`), nil)
	assert.Error(t, err)

	_, err = n.Normalize(context.Background(), models.Platform("vine"), []byte(`{}`), nil)
	assert.Error(t, err)
}

func TestNormalizeFieldOrderIsStable(t *testing.T) {
	n := NewNormalizer(newTestLogger(), nil)
	for _, p := range models.Platforms {
		for i := 0; i < 3; i++ {
			rec := normalize(t, n, p, `{"data":{"id":"1"}}`, nil)
			var names []string
			for _, f := range rec.Fields() {
				names = append(names, f.Name)
			}
			assert.Equal(t, models.FieldNames(p), names)
		}
	}
}

func TestNormalizeTikTokMinimalPayload(t *testing.T) {
	n := NewNormalizer(newTestLogger(), nil)
	rec := normalize(t, n, models.TikTok, `{"data":[{"aweme_id":"123456","statistics":{"digg_count":10}}]}`, nil).(*models.TikTokRecord)

	assert.Equal(t, &models.TikTokRecord{ID: "123456", Likes: 10}, rec)
}

func TestNormalizeTikTokFullPayload(t *testing.T) {
	raw := `{"data":{
		"aweme_id": 6908123456789012345,
		"desc": "dance",
		"create_time": 1700000000,
		"statistics": {"digg_count": 10, "comment_count": 2, "play_count": 3500, "share_count": 1, "repost_count": 4},
		"music": {
			"title": "original sound",
			"author": "someone",
			"id_str": "7001234567890123456",
			"play_url": {"url_list": ["https://sf16.tiktokcdn.com/song.mp3"]},
			"tt_to_dsp_song_infos": [{"song_id": "555"}]
		},
		"author": {"unique_id": "user", "nickname": "User", "verification_type": 1},
		"video": {
			"play_addr": {"url_list": ["https://v16.tiktokcdn.com/video.mp4"]},
			"cover": {"url_list": []}
		}
	}}`
	n := NewNormalizer(newTestLogger(), nil)
	rec := normalize(t, n, models.TikTok, raw, &models.EnrichmentResult{PopularityCount: "1532"}).(*models.TikTokRecord)

	assert.Equal(t, "6908123456789012345", rec.ID)
	assert.Equal(t, int64(3500), rec.Views)
	assert.Equal(t, int64(4), rec.Reposts)
	assert.Equal(t, "https://sf16.tiktokcdn.com/song.mp3", rec.SongLink)
	assert.Equal(t, "555", rec.SongID)
	assert.Equal(t, "7001234567890123456", rec.SoundID)
	require.NotNil(t, rec.UGC)
	assert.Equal(t, int64(1532), *rec.UGC)
	assert.True(t, rec.OwnerVerified)
	require.NotNil(t, rec.VideoURL)
	assert.Equal(t, "https://v16.tiktokcdn.com/video.mp4", *rec.VideoURL)
	assert.Nil(t, rec.ThumbnailURL)
	assert.Equal(t, int64(1700000000), rec.Timestamp)
}

func TestNormalizeTikTokVerification(t *testing.T) {
	n := NewNormalizer(newTestLogger(), nil)
	tests := map[string]bool{
		`1`:    true,
		`0`:    false,
		`2`:    false,
		`"1"`:  false,
		`true`: false,
		`null`: false,
	}
	for code, want := range tests {
		raw := `{"data":{"author":{"verification_type":` + code + `}}}`
		rec := normalize(t, n, models.TikTok, raw, nil).(*models.TikTokRecord)
		assert.Equal(t, want, rec.OwnerVerified, code)
	}

	rec := normalize(t, n, models.TikTok, `{"data":{"author":{}}}`, nil).(*models.TikTokRecord)
	assert.False(t, rec.OwnerVerified, "absent code")
}

func TestNormalizeTikTokUGC(t *testing.T) {
	n := NewNormalizer(newTestLogger(), nil)
	raw := `{"data":{"aweme_id":"1"}}`

	tests := []struct {
		enrichment *models.EnrichmentResult
		want       *int64
	}{
		{nil, nil},
		{&models.EnrichmentResult{PopularityCount: models.NotFound}, nil},
		{&models.EnrichmentResult{PopularityCount: "0"}, nil},
		{&models.EnrichmentResult{PopularityCount: "1.2M"}, nil},
		{&models.EnrichmentResult{PopularityCount: "1532"}, ptr(int64(1532))},
	}
	for _, tt := range tests {
		rec := normalize(t, n, models.TikTok, raw, tt.enrichment).(*models.TikTokRecord)
		assert.Equal(t, tt.want, rec.UGC)
	}
}

func TestNormalizeTikTokSoundIDFallback(t *testing.T) {
	n := NewNormalizer(newTestLogger(), nil)

	rec := normalize(t, n, models.TikTok, `{"data":{"music":{"mid":"42","id":7}}}`, nil).(*models.TikTokRecord)
	assert.Equal(t, "42", rec.SoundID)

	rec = normalize(t, n, models.TikTok, `{"data":{"music":{"id":7}}}`, nil).(*models.TikTokRecord)
	assert.Equal(t, "7", rec.SoundID)
}

func TestNormalizeInstagram(t *testing.T) {
	raw := `{"data":{
		"id": "3301",
		"shortcode": "DAbc123",
		"is_video": true,
		"video_view_count": 500,
		"edge_media_preview_like": {"count": 40},
		"edge_media_preview_comment": {"count": 3},
		"edge_media_to_caption": {"edges": [{"node": {"text": "hello"}}]},
		"owner": {"username": "ig", "full_name": "I G", "is_verified": true},
		"thumbnail_src": "https://cdn/thumb.jpg",
		"display_url": "https://cdn/display.jpg",
		"taken_at_timestamp": 1690000000,
		"clips_music_attribution_info": {"song_name": "Song", "artist_name": "Artist", "audio_id": "987"}
	}}`
	n := NewNormalizer(newTestLogger(), nil)
	rec := normalize(t, n, models.Instagram, raw, nil).(*models.InstagramRecord)

	assert.Equal(t, &models.InstagramRecord{
		ID:              "3301",
		Shortcode:       "DAbc123",
		IsVideo:         true,
		Likes:           40,
		Comments:        3,
		Views:           ptr(int64(500)),
		Caption:         "hello",
		OwnerUsername:   "ig",
		OwnerFullName:   "I G",
		OwnerIsVerified: true,
		ThumbnailURL:    "https://cdn/thumb.jpg",
		DisplayURL:      "https://cdn/display.jpg",
		Timestamp:       1690000000,
		AudioURL:        "https://www.instagram.com/reels/audio/987/",
		AudioTitle:      "Song",
		AudioArtist:     "Artist",
	}, rec)
}

func TestNormalizeInstagramViews(t *testing.T) {
	n := NewNormalizer(newTestLogger(), nil)

	rec := normalize(t, n, models.Instagram, `{"data":{"is_video":false,"video_view_count":500}}`, nil).(*models.InstagramRecord)
	assert.Nil(t, rec.Views, "images have no views")

	rec = normalize(t, n, models.Instagram, `{"data":{"is_video":true}}`, nil).(*models.InstagramRecord)
	assert.Nil(t, rec.Views, "absent count")

	rec = normalize(t, n, models.Instagram, `{"data":{"is_video":true,"video_view_count":0}}`, nil).(*models.InstagramRecord)
	assert.Equal(t, ptr(int64(0)), rec.Views)
}

func TestNormalizeYouTubeMergesExtractedFields(t *testing.T) {
	raw := `{"data":{"id":"dQw4w9WgXcQ","title":"T","channel":{"title":"C"},"likeCount":5,"publishDate":"2024-01-02"}}`
	ext := &stubExtractor{fields: map[string]any{
		"Likes":     float64(99),
		"views":     "1,234",
		"shares":    float64(3),
		"Song Name": "Song",
		"artist":    " A ",
	}}
	n := NewNormalizer(newTestLogger(), ext)

	rec := normalize(t, n, models.YouTube, raw, nil).(*models.YouTubeRecord)

	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, &models.YouTubeRecord{
		ID:        "dQw4w9WgXcQ",
		Title:     "T",
		Channel:   "C",
		Likes:     5,
		Views:     1234,
		Shares:    ptr(int64(3)),
		SongName:  "Song",
		Artist:    "A",
		Timestamp: 1704153600,
	}, rec)
}

func TestNormalizeYouTubeExtractionFailure(t *testing.T) {
	n := NewNormalizer(newTestLogger(), &stubExtractor{err: errors.New("rate limited")})

	_, err := n.Normalize(context.Background(), models.YouTube, []byte(`{"data":{"id":"x"}}`), nil)
	assert.ErrorIs(t, err, metrics.ErrFetchFailure)
}

func TestSoundRef(t *testing.T) {
	title, id, ok := SoundRef([]byte(`{"data":{"music":{"title":"original sound","id_str":"7001"}}}`))
	assert.True(t, ok)
	assert.Equal(t, "original sound", title)
	assert.Equal(t, "7001", id)

	_, _, ok = SoundRef([]byte(`{"data":{"music":{"title":"x"}}}`))
	assert.False(t, ok)
}

func ptr[T any](v T) *T { return &v }
