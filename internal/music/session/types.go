package session

import (
	"context"
	"time"

	"jambot/internal/catalog"
)

// SourceKind tells the engine how to open a track.
type SourceKind int

const (
	SourceLink SourceKind = iota // remote video page, resolved to a stream at play time
	SourceFile                   // local file from the jam catalog
)

func (k SourceKind) String() string {
	if k == SourceFile {
		return "file"
	}
	return "link"
}

// Track is immutable once enqueued.
type Track struct {
	Title     string
	Artist    string
	SourceRef string
	Kind      SourceKind
	Duration  time.Duration

	// CatalogName is the catalog audio_name this track was played from, empty
	// for tracks that did not come from a jam.
	CatalogName string
}

// FromCatalog reports whether the track was drawn by jam.
func (t Track) FromCatalog() bool {
	return t.CatalogName != ""
}

// State is the session playback state.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// EventType enumerates engine notifications.
type EventType int

const (
	TrackStarted EventType = iota
	TrackEnded
)

func (t EventType) String() string {
	if t == TrackEnded {
		return "track_ended"
	}
	return "track_started"
}

// Event is an engine notification about the play identified by PlayID.
type Event struct {
	Type   EventType
	PlayID uint64
	Err    error // set on TrackEnded when playback failed
}

// EventSink receives engine events. Implementations must not block.
type EventSink func(Event)

// Engine owns the voice connection and audio streaming for one guild.
//
// Play must return without waiting for the track to finish. Every accepted
// Play is followed by exactly one TrackEnded event carrying its id, also when
// the track is stopped. TrackStarted is sent before it once audio begins; a
// track that cannot be opened only gets TrackEnded with Err set.
type Engine interface {
	Play(playID uint64, track Track, volume int) error
	Stop() error
	Pause() error
	Resume() error
	Paused() bool
	Position() time.Duration
	Seek(pos time.Duration) error
	SetVolume(percent int) error
	Close() error
}

// Joiner opens a voice connection and returns the engine bound to it.
type Joiner interface {
	Join(ctx context.Context, guildID, channelID string, sink EventSink) (Engine, error)
}

// JoinerFunc adapts a function to Joiner.
type JoinerFunc func(ctx context.Context, guildID, channelID string, sink EventSink) (Engine, error)

func (f JoinerFunc) Join(ctx context.Context, guildID, channelID string, sink EventSink) (Engine, error) {
	return f(ctx, guildID, channelID, sink)
}

// Catalog is the subset of the jam catalog a session needs.
type Catalog interface {
	RandomPick(ctx context.Context, guildID string) (catalog.Entry, bool, error)
	Delete(ctx context.Context, guildID, audioName string) error
}

// QueueEntry is one line of a queue snapshot.
type QueueEntry struct {
	Title   string
	Artist  string
	Current bool
}
