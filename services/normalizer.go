package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"clip-metrics/models"
	"clip-metrics/scraper/metrics"
	"clip-metrics/utils"
)

const instagramAudioURL = "https://www.instagram.com/reels/audio/%s/"

// Normalizer flattens raw metrics API payloads into fixed-schema records.
// Every lookup into the payload is optional: a missing key at any depth
// yields the field default, never an error.
type Normalizer struct {
	logger    *utils.Logger
	extractor Extractor
}

// NewNormalizer creates a Normalizer. extractor may be nil, in which case
// YouTube records are built from direct payload lookups only.
func NewNormalizer(logger *utils.Logger, extractor Extractor) *Normalizer {
	return &Normalizer{logger: logger, extractor: extractor}
}

// Normalize maps raw onto the record schema of platform. enrichment is only
// consulted for TikTok.
func (n *Normalizer) Normalize(ctx context.Context, platform models.Platform, raw []byte, enrichment *models.EnrichmentResult) (models.Record, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("normalizer: %s payload is not valid JSON", platform)
	}
	data := payloadRoot(raw)

	switch platform {
	case models.Instagram:
		return normalizeInstagram(data), nil
	case models.TikTok:
		return normalizeTikTok(data, enrichment), nil
	case models.YouTube:
		return n.normalizeYouTube(ctx, data, raw)
	}
	return nil, fmt.Errorf("normalizer: unsupported platform %q", platform)
}

// SoundRef returns the music title and sound id of a TikTok payload.
func SoundRef(raw []byte) (title, soundID string, ok bool) {
	music := payloadRoot(raw).Get("music")
	title = str(music.Get("title"))
	soundID = str(first(music, "id_str", "mid", "id"))
	return title, soundID, soundID != ""
}

// payloadRoot returns the "data" node, or its first element when it is a list.
func payloadRoot(raw []byte) gjson.Result {
	data := gjson.GetBytes(raw, "data")
	if data.IsArray() {
		return data.Get("0")
	}
	return data
}

func normalizeInstagram(post gjson.Result) *models.InstagramRecord {
	isVideo := post.Get("is_video").Bool()
	owner := post.Get("owner")
	music := post.Get("clips_music_attribution_info")

	rec := &models.InstagramRecord{
		ID:              str(post.Get("id")),
		Shortcode:       str(post.Get("shortcode")),
		IsVideo:         isVideo,
		Likes:           post.Get("edge_media_preview_like.count").Int(),
		Comments:        post.Get("edge_media_preview_comment.count").Int(),
		Caption:         str(post.Get("edge_media_to_caption.edges.0.node.text")),
		OwnerUsername:   str(owner.Get("username")),
		OwnerFullName:   str(owner.Get("full_name")),
		OwnerIsVerified: owner.Get("is_verified").Bool(),
		ThumbnailURL:    str(post.Get("thumbnail_src")),
		DisplayURL:      str(post.Get("display_url")),
		Timestamp:       post.Get("taken_at_timestamp").Int(),
		AudioTitle:      str(music.Get("song_name")),
		AudioArtist:     str(music.Get("artist_name")),
	}

	// Images have no view count.
	if isVideo {
		rec.Views = optInt(post.Get("video_view_count"))
	}
	if audioID := str(music.Get("audio_id")); audioID != "" {
		rec.AudioURL = fmt.Sprintf(instagramAudioURL, audioID)
	}
	return rec
}

func normalizeTikTok(video gjson.Result, enrichment *models.EnrichmentResult) *models.TikTokRecord {
	stats := video.Get("statistics")
	music := video.Get("music")
	author := video.Get("author")
	verification := author.Get("verification_type")

	return &models.TikTokRecord{
		ID:            str(video.Get("aweme_id")),
		Description:   str(video.Get("desc")),
		Likes:         stats.Get("digg_count").Int(),
		Comments:      stats.Get("comment_count").Int(),
		Views:         stats.Get("play_count").Int(),
		Shares:        stats.Get("share_count").Int(),
		Reposts:       stats.Get("repost_count").Int(),
		MusicTitle:    str(music.Get("title")),
		MusicArtist:   str(music.Get("author")),
		SongLink:      str(music.Get("play_url.url_list.0")),
		SongID:        str(music.Get("tt_to_dsp_song_infos.0.song_id")),
		SoundID:       str(first(music, "id_str", "mid", "id")),
		UGC:           popularity(enrichment),
		OwnerUsername: str(author.Get("unique_id")),
		OwnerNickname: str(author.Get("nickname")),
		OwnerVerified: verification.Type == gjson.Number && verification.Num == 1,
		VideoURL:      optStr(video.Get("video.play_addr.url_list.0")),
		ThumbnailURL:  optStr(video.Get("video.cover.url_list.0")),
		Timestamp:     video.Get("create_time").Int(),
	}
}

func (n *Normalizer) normalizeYouTube(ctx context.Context, video gjson.Result, raw []byte) (*models.YouTubeRecord, error) {
	rec := &models.YouTubeRecord{
		ID:        str(first(video, "id", "videoId")),
		Title:     str(video.Get("title")),
		Channel:   str(first(video, "channel.title", "channel.name", "author")),
		Likes:     first(video, "likeCount", "statistics.likeCount").Int(),
		Comments:  first(video, "commentCount", "statistics.commentCount").Int(),
		Views:     first(video, "viewCountInt", "viewCount", "statistics.viewCount").Int(),
		Timestamp: publishedAt(first(video, "publishDate", "publishedAt", "snippet.publishedAt")),
	}

	if n.extractor == nil {
		return rec, nil
	}

	extracted, err := n.extractor.Extract(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: youtube extraction: %v", metrics.ErrFetchFailure, err)
	}
	applyExtracted(rec, extracted)
	n.logger.Debug("[normalizer] Merged %d extracted fields into youtube record", len(extracted))
	return rec, nil
}

// applyExtracted fills fields the payload lookups left at their default.
func applyExtracted(rec *models.YouTubeRecord, extracted map[string]any) {
	get := func(names ...string) (any, bool) {
		for k, v := range extracted {
			key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_")
			for _, name := range names {
				if key == name {
					return v, true
				}
			}
		}
		return nil, false
	}

	if v, ok := get("likes"); ok && rec.Likes == 0 {
		rec.Likes = anyInt(v)
	}
	if v, ok := get("comments"); ok && rec.Comments == 0 {
		rec.Comments = anyInt(v)
	}
	if v, ok := get("views"); ok && rec.Views == 0 {
		rec.Views = anyInt(v)
	}
	if v, ok := get("shares"); ok && rec.Shares == nil {
		if n := anyInt(v); n > 0 {
			rec.Shares = &n
		}
	}
	if v, ok := get("song_name", "song"); ok && rec.SongName == "" {
		rec.SongName = anyString(v)
	}
	if v, ok := get("artist"); ok && rec.Artist == "" {
		rec.Artist = anyString(v)
	}
}

// popularity turns a scraped count into ugc. Zero and non-numeric counts are
// both treated as unknown.
func popularity(enrichment *models.EnrichmentResult) *int64 {
	if enrichment == nil {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(enrichment.PopularityCount), 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

func first(node gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := node.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func str(r gjson.Result) string {
	if r.Type == gjson.Null {
		return ""
	}
	return r.String()
}

func optInt(r gjson.Result) *int64 {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := r.Int()
	return &v
}

func optStr(r gjson.Result) *string {
	s := str(r)
	if s == "" {
		return nil
	}
	return &s
}

func publishedAt(r gjson.Result) int64 {
	if r.Type == gjson.Number {
		return r.Int()
	}
	s := str(r)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

func anyInt(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

func anyString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
