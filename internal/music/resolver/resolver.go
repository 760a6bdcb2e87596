// Package resolver turns raw play requests into playable tracks.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	youtube "github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"jambot/internal/catalog"
	"jambot/internal/music/session"
	"jambot/pkg/retrylimit"
)

// Kind is the classification of a raw request.
type Kind int

const (
	KindSearch Kind = iota
	KindLink
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindLink:
		return "link"
	case KindUnsupported:
		return "unsupported"
	default:
		return "search"
	}
}

var youtubeURL = regexp.MustCompile(`(?:https?:\/\/)?(?:www\.|music\.)?(youtube\.com|youtu\.be)\/\S+`)

// PersistInfo describes how to record a resolved track into the catalog.
type PersistInfo struct {
	URL   string
	Title string
	Ext   string
}

// Resolved is a playable track plus what is needed to persist it.
type Resolved struct {
	Track   session.Track
	Persist PersistInfo
}

// VideoClient fetches metadata for a direct link.
type VideoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
}

// Searcher returns search hits, best first.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]Hit, error)
}

// Hit is one search result.
type Hit struct {
	URL      string
	Title    string
	Artist   string
	Duration time.Duration
}

type Options struct {
	Videos             VideoClient
	Searchers          []Searcher
	Runner             Runner
	UnsupportedDomains []string
	FilesDir           string
	Limiter            *retrylimit.AdaptiveLimiter
	Attempts           int
	Logger             zerolog.Logger
}

// Resolver classifies requests and resolves them. Identical concurrent
// requests share one lookup.
type Resolver struct {
	opts  Options
	group singleflight.Group
	log   zerolog.Logger
}

func New(opts Options) *Resolver {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	return &Resolver{
		opts: opts,
		log:  opts.Logger.With().Str("component", "resolver").Logger(),
	}
}

// Classify decides how a raw request would be resolved.
func (r *Resolver) Classify(raw string) Kind {
	raw = strings.TrimSpace(raw)
	if youtubeURL.MatchString(raw) {
		return KindLink
	}
	for _, domain := range r.opts.UnsupportedDomains {
		if domain != "" && strings.Contains(raw, domain) {
			return KindUnsupported
		}
	}
	return KindSearch
}

// Resolve classifies raw and resolves it. Unsupported domains return
// session.ErrNotImplemented; lookup failures wrap session.ErrResolutionFailure.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Resolved, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolved{}, fmt.Errorf("%w: empty request", session.ErrResolutionFailure)
	}

	kind := r.Classify(raw)
	if kind == KindUnsupported {
		return Resolved{}, session.ErrNotImplemented
	}

	v, err, shared := r.group.Do(kind.String()+":"+raw, func() (any, error) {
		if kind == KindLink {
			return r.resolveLink(ctx, CleanVideoURL(raw))
		}
		return r.resolveSearch(ctx, raw)
	})
	if err != nil {
		r.log.Error().Err(err).Str("request", raw).Stringer("kind", kind).Msg("resolution failed")
		return Resolved{}, fmt.Errorf("%w: %w", session.ErrResolutionFailure, err)
	}
	res := v.(Resolved)
	r.log.Debug().Str("request", raw).Stringer("kind", kind).Bool("shared", shared).
		Str("title", res.Track.Title).Msg("resolved")
	return res, nil
}

func (r *Resolver) resolveLink(ctx context.Context, link string) (Resolved, error) {
	if r.opts.Videos == nil {
		return Resolved{}, errors.New("no video client configured")
	}

	var video *youtube.Video
	err := retrylimit.WithRetryMax(ctx, func() error {
		var err error
		video, err = r.opts.Videos.GetVideoContext(ctx, link)
		if isPermanentVideoError(err) {
			return retrylimit.Permanent(err)
		}
		return err
	}, r.opts.Limiter, r.opts.Attempts, r.log)
	if err != nil {
		return Resolved{}, fmt.Errorf("fetch %s: %w", link, err)
	}
	return linkResolved(link, video.Title, video.Author, video.Duration), nil
}

func (r *Resolver) resolveSearch(ctx context.Context, query string) (Resolved, error) {
	var errs []error
	for _, s := range r.opts.Searchers {
		var hits []Hit
		err := retrylimit.WithRetryMax(ctx, func() error {
			var err error
			hits, err = s.Search(ctx, query)
			return err
		}, r.opts.Limiter, r.opts.Attempts, r.log)
		if err != nil {
			r.log.Warn().Err(err).Str("searcher", s.Name()).Msg("search failed, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if len(hits) == 0 {
			errs = append(errs, fmt.Errorf("%s: no results for %q", s.Name(), query))
			continue
		}
		h := hits[0]
		return linkResolved(h.URL, h.Title, h.Artist, h.Duration), nil
	}
	if len(errs) == 0 {
		return Resolved{}, errors.New("no searchers configured")
	}
	return Resolved{}, errors.Join(errs...)
}

func linkResolved(link, title, artist string, d time.Duration) Resolved {
	return Resolved{
		Track: session.Track{
			Title:     title,
			Artist:    artist,
			SourceRef: link,
			Kind:      session.SourceLink,
			Duration:  d,
		},
		Persist: PersistInfo{URL: link, Title: title, Ext: defaultExt},
	}
}

func isPermanentVideoError(err error) bool {
	return errors.Is(err, youtube.ErrVideoPrivate) ||
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID) ||
		errors.Is(err, youtube.ErrNotPlayableInEmbed)
}

// FileTrack resolves a catalog entry to its downloaded file. No network is
// involved.
func (r *Resolver) FileTrack(e catalog.Entry) session.Track {
	return session.Track{
		Title:       e.AudioName,
		SourceRef:   filepath.Join(r.opts.FilesDir, e.FileName()),
		Kind:        session.SourceFile,
		CatalogName: e.AudioName,
	}
}
