package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"clip-metrics/config"
	"clip-metrics/models"
	"clip-metrics/utils"
)

// ErrFetchFailure covers every unsuccessful metrics API call: transport
// errors, non-200 statuses, unparseable bodies and vendor error replies.
var ErrFetchFailure = errors.New("fetch failure")

type endpoint struct {
	path    string
	idParam string
}

// endpoints maps each supported platform and content kind to its API route.
// TikTok photo posts share the video route.
var endpoints = map[models.Platform]map[models.ContentKind]endpoint{
	models.TikTok: {
		models.KindVideo: {path: "/tiktok/video", idParam: "aweme_id"},
		models.KindPhoto: {path: "/tiktok/video", idParam: "aweme_id"},
	},
	models.Instagram: {
		models.KindPost: {path: "/instagram/post", idParam: "shortcode"},
		models.KindReel: {path: "/instagram/post", idParam: "shortcode"},
	},
	models.YouTube: {
		models.KindVideo: {path: "/youtube/video", idParam: "video_id"},
	},
}

// Client fetches raw metrics payloads from the aggregation API.
type Client struct {
	baseURL    string
	token      string
	queryToken string
	http       *http.Client
	logger     *utils.Logger
}

// New creates a metrics API client from the config.
func New(cfg *config.Config, logger *utils.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.MetricsAPIBaseURL, "/"),
		token:      cfg.MetricsAPIToken,
		queryToken: cfg.MetricsAPIQueryToken,
		http:       &http.Client{Timeout: cfg.FetchTimeout()},
		logger:     logger,
	}
}

// Fetch returns the raw JSON payload for src. Any failure is ErrFetchFailure;
// there is no retry.
func (c *Client) Fetch(ctx context.Context, src *models.SourceURL) ([]byte, error) {
	ep, ok := endpoints[src.Platform][src.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no endpoint for %s %s", ErrFetchFailure, src.Platform, src.Kind)
	}

	q := url.Values{}
	q.Set(ep.idParam, src.ContentID)
	q.Set("url", src.FetchURL)
	if c.queryToken != "" {
		q.Set("token", c.queryToken)
	}
	reqURL := c.baseURL + ep.path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetchFailure, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Info("[metrics] GET %s%s (%s=%s)", c.baseURL, ep.path, ep.idParam, src.ContentID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetchFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d", ErrFetchFailure, resp.StatusCode)
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: parse json: %v", ErrFetchFailure, err)
	}
	if vendorError(envelope.Error) {
		return nil, fmt.Errorf("%w: api error %s", ErrFetchFailure, string(envelope.Error))
	}

	c.logger.Info("[metrics] Received %d bytes for %s %s", len(body), src.Platform, src.ContentID)
	return body, nil
}

// vendorError reports whether an "error" field carries an actual error.
func vendorError(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", `""`, "{}":
		return false
	}
	return true
}
