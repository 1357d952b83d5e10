// Package media turns TikTok and Instagram links into direct media URLs.
package media

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	ErrNoMedia         = errors.New("no downloadable media")
	ErrQuotaExceeded   = errors.New("media request quota exceeded")
	ErrUnsupportedLink = errors.New("unsupported link")
)

type Kind int

const (
	Video Kind = iota
	Photo
)

func (k Kind) String() string {
	if k == Photo {
		return "photo"
	}
	return "video"
}

// Ref points to a media file the messenger can fetch by itself.
type Ref struct {
	URL  string
	Kind Kind
}

type Fetcher interface {
	Fetch(ctx context.Context, link string) (*Ref, error)
}

var linkPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:[a-z0-9-]+\.)+[a-z]{2,}/[^\s]*`)

// FindLink returns the first link with a path in the text or an empty string.
func FindLink(text string) string {
	return linkPattern.FindString(text)
}

// Router passes links to the fetcher of their service.
type Router struct {
	TikTok    Fetcher
	Instagram Fetcher
}

// Service names the service of a supported link or returns an empty string.
func Service(link string) string {
	l := strings.ToLower(link)
	switch {
	case strings.Contains(l, "tiktok.com"):
		return "tiktok"
	case strings.Contains(l, "instagram.com/reel/"), strings.Contains(l, "instagram.com/p/"):
		return "instagram"
	default:
		return ""
	}
}

func (r Router) Fetch(ctx context.Context, link string) (*Ref, error) {
	var f Fetcher
	switch Service(link) {
	case "tiktok":
		f = r.TikTok
	case "instagram":
		f = r.Instagram
	}
	if f == nil {
		return nil, ErrUnsupportedLink
	}

	return f.Fetch(ctx, link)
}
