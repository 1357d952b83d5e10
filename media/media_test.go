package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFindLink(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{text: "look https://vm.tiktok.com/ZMabc123/ lol", want: "https://vm.tiktok.com/ZMabc123/"},
		{text: "www.instagram.com/reel/Cxyz/?igsh=1 wow", want: "www.instagram.com/reel/Cxyz/?igsh=1"},
		{text: "http://example.com/a and https://tiktok.com/b", want: "http://example.com/a"},
		{text: "just text. no links", want: ""},
		{text: "bare domain example.com", want: ""},
	}
	for _, tt := range tests {
		if got := FindLink(tt.text); got != tt.want {
			t.Errorf("FindLink(%q): expected %q, got %q", tt.text, tt.want, got)
		}
	}
}

func TestService(t *testing.T) {
	tests := map[string]string{
		"https://www.tiktok.com/@user/video/1":   "tiktok",
		"https://VM.TIKTOK.COM/abc/":             "tiktok",
		"https://www.instagram.com/reel/abc/":    "instagram",
		"https://instagram.com/p/abc/":           "instagram",
		"https://instagram.com/stories/someone/": "",
		"https://example.com/video":              "",
	}
	for link, want := range tests {
		if got := Service(link); got != want {
			t.Errorf("Service(%q): expected %q, got %q", link, want, got)
		}
	}
}

type fetcherFunc func(ctx context.Context, link string) (*Ref, error)

func (f fetcherFunc) Fetch(ctx context.Context, link string) (*Ref, error) { return f(ctx, link) }

func TestRouter(t *testing.T) {
	tiktok := fetcherFunc(func(context.Context, string) (*Ref, error) { return &Ref{URL: "tt"}, nil })
	r := Router{TikTok: tiktok}

	ref, err := r.Fetch(context.Background(), "https://tiktok.com/x")
	if err != nil || ref.URL != "tt" {
		t.Fatalf("unexpected result %+v %v", ref, err)
	}
	if _, err := r.Fetch(context.Background(), "https://instagram.com/p/x"); !errors.Is(err, ErrUnsupportedLink) {
		t.Fatalf("expected ErrUnsupportedLink without instagram fetcher, got %v", err)
	}
	if _, err := r.Fetch(context.Background(), "https://example.com/x"); !errors.Is(err, ErrUnsupportedLink) {
		t.Fatalf("expected ErrUnsupportedLink, got %v", err)
	}
}

func TestTikTok(t *testing.T) {
	var response string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-RapidAPI-Key") != "secret" || r.Header.Get("X-RapidAPI-Host") != TikTokHost {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Query().Get("url") != "https://tiktok.com/v" || r.URL.Query().Get("hd") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	tt := NewTikTok(srv.Client(), srv.URL, "secret", nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		response string
		want     string
		err      error
	}{
		{name: "hd", response: `{"data":{"play":"https://cdn/sd.mp4","hdplay":"https://cdn/hd.mp4"}}`, want: "https://cdn/hd.mp4"},
		{name: "sd fallback", response: `{"data":{"play":"https://cdn/sd.mp4","hdplay":""}}`, want: "https://cdn/sd.mp4"},
		{name: "nothing", response: `{"data":null}`, err: ErrNoMedia},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			response = tc.response
			ref, err := tt.Fetch(ctx, "https://tiktok.com/v")
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if ref.URL != tc.want || ref.Kind != Video {
				t.Fatalf("unexpected ref %+v", ref)
			}
		})
	}

	wrongKey := NewTikTok(srv.Client(), srv.URL, "wrong", nil)
	if _, err := wrongKey.Fetch(ctx, "https://tiktok.com/v"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestTikTokConsumesQuota(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"data":{"play":"https://cdn/sd.mp4"}}`))
	}))
	t.Cleanup(srv.Close)

	tt := NewTikTok(srv.Client(), srv.URL, "key", NewMemoryQuota(1))
	ctx := context.Background()

	if _, err := tt.Fetch(ctx, "https://tiktok.com/v"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := tt.Fetch(ctx, "https://tiktok.com/v"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("expected a single API request, got %d", n)
	}
}

func TestInstagram(t *testing.T) {
	var response string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-RapidAPI-Host") != InstagramHost {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	ig := NewInstagram(srv.Client(), srv.URL, "key")
	ctx := context.Background()

	tests := []struct {
		name     string
		response string
		want     *Ref
		err      error
	}{
		{name: "photo", response: `{"status":true,"result":[{"type":"image/jpeg","url":"https://cdn/p.jpg"}]}`, want: &Ref{URL: "https://cdn/p.jpg", Kind: Photo}},
		{name: "video", response: `{"status":true,"result":[{"type":"video/mp4","url":"https://cdn/v.mp4"},{"type":"image/jpeg","url":"x"}]}`, want: &Ref{URL: "https://cdn/v.mp4", Kind: Video}},
		{name: "failed status", response: `{"status":false,"result":[{"type":"video/mp4","url":"https://cdn/v.mp4"}]}`, err: ErrNoMedia},
		{name: "empty result", response: `{"status":true,"result":[]}`, err: ErrNoMedia},
		{name: "no url", response: `{"status":true,"result":[{"type":"video/mp4"}]}`, err: ErrNoMedia},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			response = tc.response
			ref, err := ig.Fetch(ctx, "https://instagram.com/p/x")
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if *ref != *tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, ref)
			}
		})
	}
}

func TestMemoryQuotaResetsMonthly(t *testing.T) {
	now := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	q := NewMemoryQuota(2)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		if ok, _ := q.Consume(ctx); ok != want {
			t.Fatalf("request %d: expected %v", i, want)
		}
	}

	now = now.Add(2 * time.Hour)
	if ok, _ := q.Consume(ctx); !ok {
		t.Fatal("quota must reset in a new month")
	}
}

func TestRedisQuota(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQuota(client, "test:quota", 2)
	q.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	for i, want := range []bool{true, true, false, false} {
		ok, err := q.Consume(ctx)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if ok != want {
			t.Fatalf("request %d: expected %v", i, want)
		}
	}

	used, err := mr.Get("test:quota:2026-10")
	if err != nil || used != "2" {
		t.Fatalf("expected 2 used requests, got %q (%v)", used, err)
	}
	if mr.TTL("test:quota:2026-10") <= 0 {
		t.Fatal("quota key must expire")
	}

	mr.Close()
	if _, err := q.Consume(ctx); err == nil {
		t.Fatal("expected an error when redis is down")
	}
}
