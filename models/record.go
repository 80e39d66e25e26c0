package models

// NotFound is the popularity count reported when the sound page has no count.
const NotFound = "Not found"

// EnrichmentResult is the outcome of one sound popularity lookup.
type EnrichmentResult struct {
	SoundPageURL    string `json:"sound_page_url"`
	PopularityCount string `json:"popularity_count"`
}

// Field is one named value of a normalised record. Value is a string, int64,
// bool, *int64 or *string; nil pointers are nulls.
type Field struct {
	Name  string
	Value any
}

// Record is a normalised, flat per-platform metrics record. Fields returns
// values in the fixed column order of the platform.
type Record interface {
	Platform() Platform
	Fields() []Field
}

// InstagramRecord is the normalised record for an Instagram post or reel.
type InstagramRecord struct {
	ID              string
	Shortcode       string
	IsVideo         bool
	Likes           int64
	Comments        int64
	Views           *int64
	Caption         string
	OwnerUsername   string
	OwnerFullName   string
	OwnerIsVerified bool
	ThumbnailURL    string
	DisplayURL      string
	Timestamp       int64
	Shares          *int64 // never reported by the platform
	AudioURL        string
	AudioTitle      string
	AudioArtist     string
}

func (r *InstagramRecord) Platform() Platform { return Instagram }

func (r *InstagramRecord) Fields() []Field {
	return []Field{
		{"id", r.ID},
		{"shortcode", r.Shortcode},
		{"is_video", r.IsVideo},
		{"likes", r.Likes},
		{"comments", r.Comments},
		{"views", r.Views},
		{"caption", r.Caption},
		{"owner_username", r.OwnerUsername},
		{"owner_full_name", r.OwnerFullName},
		{"owner_is_verified", r.OwnerIsVerified},
		{"thumbnail_url", r.ThumbnailURL},
		{"display_url", r.DisplayURL},
		{"timestamp", r.Timestamp},
		{"shares", r.Shares},
		{"audio_url", r.AudioURL},
		{"audio_title", r.AudioTitle},
		{"audio_artist", r.AudioArtist},
	}
}

// TikTokRecord is the normalised record for a TikTok video or photo post.
type TikTokRecord struct {
	ID            string
	Description   string
	Likes         int64
	Comments      int64
	Views         int64
	Shares        int64
	Reposts       int64
	MusicTitle    string
	MusicArtist   string
	SongLink      string
	SongID        string
	SoundID       string
	UGC           *int64
	OwnerUsername string
	OwnerNickname string
	OwnerVerified bool
	VideoURL      *string
	ThumbnailURL  *string
	Timestamp     int64
}

func (r *TikTokRecord) Platform() Platform { return TikTok }

func (r *TikTokRecord) Fields() []Field {
	return []Field{
		{"id", r.ID},
		{"description", r.Description},
		{"likes", r.Likes},
		{"comments", r.Comments},
		{"views", r.Views},
		{"shares", r.Shares},
		{"reposts", r.Reposts},
		{"music_title", r.MusicTitle},
		{"music_artist", r.MusicArtist},
		{"song_link", r.SongLink},
		{"song_id", r.SongID},
		{"sound_id", r.SoundID},
		{"ugc", r.UGC},
		{"owner_username", r.OwnerUsername},
		{"owner_nickname", r.OwnerNickname},
		{"owner_verified", r.OwnerVerified},
		{"video_url", r.VideoURL},
		{"thumbnail_url", r.ThumbnailURL},
		{"timestamp", r.Timestamp},
	}
}

// YouTubeRecord is the normalised record for a YouTube video.
type YouTubeRecord struct {
	ID        string
	Title     string
	Channel   string
	Likes     int64
	Comments  int64
	Views     int64
	Shares    *int64
	SongName  string
	Artist    string
	Timestamp int64
}

func (r *YouTubeRecord) Platform() Platform { return YouTube }

func (r *YouTubeRecord) Fields() []Field {
	return []Field{
		{"id", r.ID},
		{"title", r.Title},
		{"channel", r.Channel},
		{"likes", r.Likes},
		{"comments", r.Comments},
		{"views", r.Views},
		{"shares", r.Shares},
		{"song_name", r.SongName},
		{"artist", r.Artist},
		{"timestamp", r.Timestamp},
	}
}

// FieldNames returns the raw column names of a platform's record, in order.
func FieldNames(p Platform) []string {
	var rec Record
	switch p {
	case TikTok:
		rec = &TikTokRecord{}
	case Instagram:
		rec = &InstagramRecord{}
	case YouTube:
		rec = &YouTubeRecord{}
	default:
		return nil
	}
	fields := rec.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
