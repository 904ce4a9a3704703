package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/verificaicode/verifica-ai/internal/types"
)

func TestResolveShortcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/posts/ABC123" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{
			"shortcode": "ABC123",
			"is_video": false,
			"caption": "uma legenda",
			"published_at": "2025-05-10T12:00:00Z",
			"media_url": "https://cdn.example.com/a.jpg",
			"is_carousel": true,
			"items": [
				{"is_video": false, "media_url": "https://cdn.example.com/a1.jpg"},
				{"is_video": true, "media_url": "https://cdn.example.com/a2.mp4"}
			]
		}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", 2*time.Second)

	post, err := client.ResolveShortcode(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("ResolveShortcode: %v", err)
	}
	if post.Caption != "uma legenda" {
		t.Errorf("caption = %q", post.Caption)
	}
	if !post.IsCarousel || len(post.Items) != 2 {
		t.Errorf("expected carousel with 2 items, got %+v", post)
	}
	if !post.Items[1].IsVideo {
		t.Error("second carousel item should be video")
	}
	if post.PublishedAt.IsZero() {
		t.Error("published_at not parsed")
	}
}

func TestResolveShortcode_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)

	_, err := client.ResolveShortcode(context.Background(), "GONE")
	if !errors.Is(err, types.ErrInvalidLink) {
		t.Errorf("expected ErrInvalidLink, got %v", err)
	}
}

func TestResolveShortcode_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)

	_, err := client.ResolveShortcode(context.Background(), "X")
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if errors.Is(err, types.ErrInvalidLink) {
		t.Error("a backend failure must not look like a user error")
	}
}
