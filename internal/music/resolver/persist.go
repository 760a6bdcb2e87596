package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"jambot/internal/music/session"
)

// Adder records downloaded assets.
type Adder interface {
	Add(ctx context.Context, guildID, audioName, ext string) error
}

type PersisterOptions struct {
	Runner   Runner
	Catalog  Adder
	FilesDir string
	// PerMinute caps downloads; 0 means unlimited.
	PerMinute int
	Queue     int
	Timeout   time.Duration
	Logger    zerolog.Logger
}

type persistJob struct {
	guildID string
	info    PersistInfo
}

// Persister downloads played tracks into the files dir and adds them to the
// catalog in the background. Failures are logged and never reach playback.
type Persister struct {
	opts    PersisterOptions
	limiter *rate.Limiter
	jobs    chan persistJob
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

func NewPersister(opts PersisterOptions) *Persister {
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	limit := rate.Inf
	if opts.PerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.PerMinute))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Persister{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		jobs:    make(chan persistJob, opts.Queue),
		log:     opts.Logger.With().Str("component", "persist").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Submit queues a download without blocking. It reports false when the job
// was dropped: duplicate, full queue or closed persister.
func (p *Persister) Submit(guildID string, info PersistInfo) bool {
	if info.URL == "" {
		return false
	}
	key := guildID + "|" + info.URL

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, dup := p.pending[key]; dup {
		return false
	}

	select {
	case p.jobs <- persistJob{guildID: guildID, info: info}:
		p.pending[key] = struct{}{}
		return true
	default:
		p.log.Warn().Str("guild_id", guildID).Str("title", info.Title).Msg("persist queue full, dropping")
		return false
	}
}

func (p *Persister) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			if err := p.persist(job); err != nil {
				p.log.Error().Err(err).Str("guild_id", job.guildID).Str("url", job.info.URL).Msg("persist failed")
			}
			p.mu.Lock()
			delete(p.pending, job.guildID+"|"+job.info.URL)
			p.mu.Unlock()
		}
	}
}

func (p *Persister) persist(job persistJob) error {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.opts.Timeout)
	defer cancel()

	title, ext, err := p.opts.Runner.Download(ctx, job.info.URL, p.opts.FilesDir)
	if err != nil {
		return fmt.Errorf("%w: %w", session.ErrPersistenceFailure, err)
	}
	if err := p.opts.Catalog.Add(ctx, job.guildID, title, ext); err != nil {
		return fmt.Errorf("%w: add %q: %w", session.ErrPersistenceFailure, title, err)
	}
	p.log.Info().Str("guild_id", job.guildID).Str("file", filepath.Join(p.opts.FilesDir, title+"."+ext)).Msg("track persisted")
	return nil
}

// Close stops the worker. Queued jobs that have not started are dropped.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
