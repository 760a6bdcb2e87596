package resolver

import (
	"context"
	"fmt"
	"strings"

	"jambot/internal/music/session"
	"jambot/pkg/util"
)

const (
	maxPlaylistEntries = 100
	playlistWorkers    = 4
)

// ResolvePlaylist expands a playlist link into tracks in playlist order.
// Entries the flat listing leaves without a title are looked up one by one;
// entries that still fail are dropped.
func (r *Resolver) ResolvePlaylist(ctx context.Context, raw string) ([]Resolved, error) {
	raw = strings.TrimSpace(raw)
	if r.Classify(raw) == KindUnsupported {
		return nil, session.ErrNotImplemented
	}
	if r.opts.Runner == nil {
		return nil, fmt.Errorf("%w: no yt-dlp runner configured", session.ErrResolutionFailure)
	}

	out, err := r.opts.Runner.Flat(ctx, raw, maxPlaylistEntries)
	if err != nil {
		r.log.Error().Err(err).Str("request", raw).Msg("playlist listing failed")
		return nil, fmt.Errorf("%w: %w", session.ErrResolutionFailure, err)
	}

	hits := parseFlat(out)
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: empty playlist %s", session.ErrResolutionFailure, raw)
	}

	results := make([]*Resolved, len(hits))
	var missing []int
	for i, h := range hits {
		if h.Title == "" {
			missing = append(missing, i)
			continue
		}
		res := linkResolved(h.URL, h.Title, h.Artist, h.Duration)
		results[i] = &res
	}

	if len(missing) > 0 {
		err := util.Parallel(ctx, missing, playlistWorkers, func(_ context.Context, i int) error {
			res, err := r.resolveLink(ctx, CleanVideoURL(hits[i].URL))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn().Err(err).Str("url", hits[i].URL).Msg("dropping playlist entry")
				return nil
			}
			results[i] = &res
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", session.ErrResolutionFailure, err)
		}
	}

	tracks := make([]Resolved, 0, len(results))
	for _, res := range results {
		if res != nil {
			tracks = append(tracks, *res)
		}
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no playable entries in %s", session.ErrResolutionFailure, raw)
	}
	r.log.Info().Str("request", raw).Int("tracks", len(tracks)).Int("dropped", len(hits)-len(tracks)).Msg("playlist resolved")
	return tracks, nil
}
