package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// MusicSearcher searches YouTube Music tracks.
type MusicSearcher struct{}

func (MusicSearcher) Name() string { return "ytmusic" }

func (MusicSearcher) Search(ctx context.Context, query string) ([]Hit, error) {
	type result struct {
		hits []Hit
		err  error
	}
	// the ytmusic client takes no context
	ch := make(chan result, 1)
	go func() {
		r, err := ytmusic.TrackSearch(query).Next()
		if err != nil {
			ch <- result{err: err}
			return
		}
		var hits []Hit
		for _, t := range r.Tracks {
			if t.VideoID == "" {
				continue
			}
			artist := ""
			if len(t.Artists) > 0 {
				artist = t.Artists[0].Name
			}
			hits = append(hits, Hit{
				URL:      "https://music.youtube.com/watch?v=" + t.VideoID,
				Title:    t.Title,
				Artist:   artist,
				Duration: time.Duration(t.Duration) * time.Second,
			})
		}
		ch <- result{hits: hits}
	}()

	select {
	case r := <-ch:
		return r.hits, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// VideoSearcher searches regular YouTube videos.
type VideoSearcher struct {
	Client *ytsearch.Client
}

func (VideoSearcher) Name() string { return "ytsearch" }

func (s VideoSearcher) Search(ctx context.Context, query string) ([]Hit, error) {
	client := s.Client
	if client == nil {
		client = ytsearch.NewClient(nil)
	}
	res, err := client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		hits = append(hits, Hit{
			URL:      "https://www.youtube.com/watch?v=" + v.VideoID,
			Title:    v.Title,
			Artist:   v.Channel,
			Duration: parseClock(v.Duration),
		})
	}
	return hits, nil
}

// parseClock parses "m:ss" or "h:mm:ss". Anything else is 0.
func parseClock(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second
}

// CleanVideoURL strips everything but the video id from a watch URL.
func CleanVideoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	host := u.Hostname()
	switch host {
	case "youtu.be":
		vid := strings.Trim(u.Path, "/")
		if vid == "" {
			return raw
		}
		return "https://youtu.be/" + vid
	case "www.youtube.com", "youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			if vid := u.Query().Get("v"); vid != "" {
				return fmt.Sprintf("https://%s/watch?v=%s", host, vid)
			}
		}
	}
	return raw
}
