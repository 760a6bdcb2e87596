package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

const (
	flatTemplate     = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s"
	downloadTemplate = "after_move:%(title)s\t%(ext)s"
	downloadFormat   = "webm[abr>0]/bestaudio/best"
	defaultExt       = "webm"
)

// Runner is the yt-dlp surface the resolver uses.
type Runner interface {
	// Flat lists up to limit entries of a playlist or search target without
	// resolving their streams. Output is one tab separated line per entry.
	Flat(ctx context.Context, target string, limit int) (string, error)
	// Download saves the audio of url into dir and reports the stored title and
	// extension.
	Download(ctx context.Context, url, dir string) (title, ext string, err error)
}

// YTDLP runs the yt-dlp binary.
type YTDLP struct {
	Binary string
	Proxy  string
}

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoWarnings().
		IgnoreConfig()
	if y.Binary != "" {
		cmd.SetExecutable(y.Binary)
	}
	if y.Proxy != "" {
		cmd.Proxy(y.Proxy)
	}
	return cmd
}

func (y *YTDLP) Flat(ctx context.Context, target string, limit int) (string, error) {
	cmd := y.command().
		FlatPlaylist().
		Print(flatTemplate)
	if limit > 0 {
		cmd.PlaylistItems(fmt.Sprintf("1-%d", limit))
	}
	res, err := cmd.Run(ctx, target)
	if err != nil {
		return "", fmt.Errorf("yt-dlp flat list: %w", err)
	}
	return res.Stdout, nil
}

func (y *YTDLP) Download(ctx context.Context, url, dir string) (string, string, error) {
	res, err := y.command().
		Quiet().
		PreferFreeFormats().
		Output(filepath.Join(dir, "%(title)s.%(ext)s")).
		Print(downloadTemplate).
		Run(ctx, "-f", downloadFormat, "--no-playlist", url)
	if err != nil {
		return "", "", fmt.Errorf("yt-dlp download: %w", err)
	}

	title, ext, ok := strings.Cut(firstLine(res.Stdout), "\t")
	if !ok || title == "" || ext == "" {
		return "", "", errors.New("yt-dlp download: no file reported")
	}
	return title, ext, nil
}

// YTDLPSearcher searches through yt-dlp's ytsearch target.
type YTDLPSearcher struct {
	Runner Runner
}

func (YTDLPSearcher) Name() string { return "ytdlp" }

func (s YTDLPSearcher) Search(ctx context.Context, query string) ([]Hit, error) {
	out, err := s.Runner.Flat(ctx, "ytsearch1:"+query, 1)
	if err != nil {
		return nil, err
	}
	return parseFlat(out), nil
}

// parseFlat parses flatTemplate lines. Entries without a URL are dropped;
// "NA" fields are left empty.
func parseFlat(out string) []Hit {
	var hits []Hit
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 4 || na(fields[0]) == "" {
			continue
		}
		var d time.Duration
		if secs, err := strconv.ParseFloat(fields[3], 64); err == nil && secs > 0 {
			d = time.Duration(secs * float64(time.Second))
		}
		hits = append(hits, Hit{
			URL:      fields[0],
			Title:    na(fields[1]),
			Artist:   na(fields[2]),
			Duration: d,
		})
	}
	return hits
}

func na(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
