package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const youtubeAPIBase = "https://www.googleapis.com/youtube/v3"

// categoryNames maps YouTube category ids to stable category labels.
var categoryNames = map[string]string{
	"1":  "film_animation",
	"2":  "autos_vehicles",
	"10": "music",
	"15": "pets_animals",
	"17": "sports",
	"19": "travel_events",
	"20": "gaming",
	"22": "people_blogs",
	"23": "comedy",
	"24": "entertainment",
	"25": "news_politics",
	"26": "howto_style",
	"27": "education",
	"28": "science_technology",
}

// YouTube fetches engagement metrics through the YouTube Data API v3.
type YouTube struct {
	client  *http.Client
	apiKey  string
	region  string
	baseURL string
}

// NewYouTube creates a YouTube metric source.
func NewYouTube(apiKey, region string) *YouTube {
	if region == "" {
		region = "KR"
	}
	return &YouTube{
		client:  &http.Client{Timeout: 30 * time.Second},
		apiKey:  apiKey,
		region:  region,
		baseURL: youtubeAPIBase,
	}
}

func (y *YouTube) Name() string { return "youtube" }

// Fetch returns the current counters for one video. The content identifier
// may carry the platform prefix ("youtube:<id>") or be a bare video id.
func (y *YouTube) Fetch(ctx context.Context, contentID string) (*Metrics, error) {
	if y.apiKey == "" {
		return nil, fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY): %w", ErrSourceUnavailable)
	}

	videoID := strings.TrimPrefix(contentID, "youtube:")

	params := url.Values{}
	params.Set("part", "snippet,statistics,contentDetails")
	params.Set("id", videoID)
	params.Set("key", y.apiKey)

	var result ytVideoResult
	if err := y.get(ctx, "/videos", params, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("youtube video %s: %w", videoID, ErrNotFound)
	}

	item := result.Items[0]
	published := item.Snippet.PublishedAt
	if published.IsZero() {
		published = time.Now().UTC()
	}

	return &Metrics{
		ContentID:    "youtube:" + item.ID,
		ChannelID:    item.Snippet.ChannelID,
		Title:        item.Snippet.Title,
		Category:     categoryNames[item.Snippet.CategoryID],
		Tags:         item.Snippet.Tags,
		ViewCount:    item.Statistics.ViewCount,
		LikeCount:    item.Statistics.LikeCount,
		CommentCount: item.Statistics.CommentCount,
		PublishedAt:  published,
		DurationSecs: parseISODuration(item.ContentDetails.Duration),
	}, nil
}

// MostPopular returns content identifiers from the region's most-popular
// chart, newest first as reported by the API. A non-positive limit yields
// an empty result without spending API quota.
func (y *YouTube) MostPopular(ctx context.Context, limit int) ([]string, error) {
	if y.apiKey == "" {
		return nil, fmt.Errorf("youtube: API key required: %w", ErrSourceUnavailable)
	}
	if limit <= 0 {
		return nil, nil
	}
	if limit > 50 {
		limit = 50
	}

	params := url.Values{}
	params.Set("part", "id")
	params.Set("chart", "mostPopular")
	params.Set("regionCode", y.region)
	params.Set("maxResults", fmt.Sprintf("%d", limit))
	params.Set("key", y.apiKey)

	var result ytVideoResult
	if err := y.get(ctx, "/videos", params, &result); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		if item.ID != "" {
			ids = append(ids, "youtube:"+item.ID)
		}
	}
	return ids, nil
}

func (y *YouTube) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := y.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create youtube request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch youtube %s: %v: %w", path, err, ErrSourceUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("youtube %s status %d: %w", path, resp.StatusCode, ErrSourceUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode youtube %s: %w", path, err)
	}
	return nil
}

// parseISODuration converts a YouTube ISO-8601 duration (PT1M30S) into
// seconds. Malformed values yield zero.
func parseISODuration(d string) int {
	if !strings.HasPrefix(d, "PT") {
		return 0
	}
	d = d[2:]

	total := 0
	num := 0
	for _, r := range d {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
		case r == 'H':
			total += num * 3600
			num = 0
		case r == 'M':
			total += num * 60
			num = 0
		case r == 'S':
			total += num
			num = 0
		default:
			return 0
		}
	}
	return total
}

type ytVideoResult struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string    `json:"title"`
			ChannelID   string    `json:"channelId"`
			CategoryID  string    `json:"categoryId"`
			Tags        []string  `json:"tags"`
			PublishedAt time.Time `json:"publishedAt"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    int64 `json:"viewCount,string"`
			LikeCount    int64 `json:"likeCount,string"`
			CommentCount int64 `json:"commentCount,string"`
		} `json:"statistics"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}
