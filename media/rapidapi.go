package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	TikTokHost    = "tiktok-video-no-watermark2.p.rapidapi.com"
	InstagramHost = "instagram-post-reels-stories-downloader.p.rapidapi.com"

	requestTimeout = 30 * time.Second
)

// rapidAPI performs GET requests to a RapidAPI endpoint.
type rapidAPI struct {
	client  *http.Client
	baseURL string
	host    string
	key     string
}

func newRapidAPI(client *http.Client, baseURL, host, key string) rapidAPI {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return rapidAPI{
		client:  client,
		baseURL: baseURL,
		host:    host,
		key:     key,
	}
}

func (r rapidAPI) get(ctx context.Context, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", r.key)
	req.Header.Set("X-RapidAPI-Host", r.host)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", r.host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s responded with %d: %s", r.host, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", r.host, err)
	}
	return nil
}

// TikTok fetches videos without a watermark. Every request consumes the quota.
type TikTok struct {
	api   rapidAPI
	quota Quota
	hd    bool
}

// NewTikTok creates the client. An empty baseURL means the public RapidAPI endpoint.
func NewTikTok(client *http.Client, baseURL, key string, quota Quota) *TikTok {
	if baseURL == "" {
		baseURL = "https://" + TikTokHost + "/"
	}
	return &TikTok{
		api:   newRapidAPI(client, baseURL, TikTokHost, key),
		quota: quota,
		hd:    true,
	}
}

type tiktokResponse struct {
	Data struct {
		Play   string `json:"play"`
		HDPlay string `json:"hdplay"`
	} `json:"data"`
}

func (t *TikTok) Fetch(ctx context.Context, link string) (*Ref, error) {
	if t.quota != nil {
		ok, err := t.quota.Consume(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to consume tiktok quota: %w", err)
		}
		if !ok {
			slog.Warn("media: TikTok request limit reached, skipping download", "link", link)
			return nil, ErrQuotaExceeded
		}
	}

	query := url.Values{"url": {link}}
	if t.hd {
		query.Set("hd", "1")
	}

	var resp tiktokResponse
	if err := t.api.get(ctx, query, &resp); err != nil {
		slog.Error("media: TikTok request failed", "error", err, "link", link)
		return nil, err
	}

	switch {
	case t.hd && resp.Data.HDPlay != "":
		return &Ref{URL: resp.Data.HDPlay, Kind: Video}, nil
	case resp.Data.Play != "":
		return &Ref{URL: resp.Data.Play, Kind: Video}, nil
	}

	slog.Error("media: TikTok did not return downloadable media", "link", link)
	return nil, ErrNoMedia
}

// Instagram fetches posts and reels.
type Instagram struct {
	api rapidAPI
}

// NewInstagram creates the client. An empty baseURL means the public RapidAPI endpoint.
func NewInstagram(client *http.Client, baseURL, key string) *Instagram {
	if baseURL == "" {
		baseURL = "https://" + InstagramHost + "/instagram/"
	}
	return &Instagram{
		api: newRapidAPI(client, baseURL, InstagramHost, key),
	}
}

type instagramResponse struct {
	Status bool `json:"status"`
	Result []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"result"`
}

func (i *Instagram) Fetch(ctx context.Context, link string) (*Ref, error) {
	var resp instagramResponse
	if err := i.api.get(ctx, url.Values{"url": {link}}, &resp); err != nil {
		slog.Error("media: Instagram request failed", "error", err, "link", link)
		return nil, err
	}

	if !resp.Status || len(resp.Result) == 0 || resp.Result[0].URL == "" {
		slog.Error("media: Instagram did not return downloadable media", "link", link)
		return nil, ErrNoMedia
	}

	first := resp.Result[0]
	kind := Video
	if first.Type == "image/jpeg" {
		kind = Photo
	}
	return &Ref{URL: first.URL, Kind: kind}, nil
}
