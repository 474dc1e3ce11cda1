package download

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alanbriolat/track-archiver/generic"
	"github.com/alanbriolat/track-archiver/internal/pubsub"
	"github.com/alanbriolat/track-archiver/internal/sync_"
)

// DefaultProgressInterval is the minimum time between ProgressUpdated events for a single download.
const DefaultProgressInterval = 500 * time.Millisecond

type DownloadID string

func NewDownloadID() DownloadID {
	return DownloadID(generic.Unwrap(uuid.NewRandom()).String())
}

// Entry is the registry's record of one in-flight download.
type Entry struct {
	ID        DownloadID
	Key       string
	Path      string
	StartedAt time.Time
	Progress  Progress

	lastEvent time.Time
}

type entriesByKey = map[string]*Entry

// Registry tracks in-flight downloads by destination key, allowing at most one per key. It is safe for concurrent
// use, and is intended to be shared by everything downloading within a process.
type Registry struct {
	entries          *sync_.RWMutexed[entriesByKey]
	events           pubsub.Publisher[Event]
	progressInterval time.Duration
	log              *zap.SugaredLogger
}

// NewRegistry creates an empty Registry. ProgressUpdated events for a key are sent at most once per
// progressInterval, except for the final update of a complete download; 0 sends every update.
func NewRegistry(progressInterval time.Duration) *Registry {
	return &Registry{
		entries:          sync_.NewRWMutexed(make(entriesByKey)),
		events:           pubsub.NewPublisher[Event](),
		progressInterval: progressInterval,
		log:              zap.S().Named("registry"),
	}
}

// Begin registers a new in-flight download for key, or fails with *DuplicateDownloadError if there already is one.
func (r *Registry) Begin(key string, path string) (Entry, error) {
	var entry Entry
	err := r.entries.Locked(func(entries entriesByKey) error {
		if _, ok := entries[key]; ok {
			return &DuplicateDownloadError{Key: key}
		}
		e := &Entry{
			ID:        NewDownloadID(),
			Key:       key,
			Path:      path,
			StartedAt: time.Now(),
		}
		entries[key] = e
		entry = *e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	r.log.Debugw("download registered", "key", key, "download_id", entry.ID)
	r.events.Send(DownloadStarted{entryEvent{entry}})
	return entry, nil
}

// Update replaces the progress snapshot for key. Updates for keys that are not registered are ignored.
func (r *Registry) Update(key string, progress Progress) {
	var event *ProgressUpdated
	_ = r.entries.Locked(func(entries entriesByKey) error {
		e, ok := entries[key]
		if !ok {
			return nil
		}
		old := e.Progress
		e.Progress = progress
		now := time.Now()
		if now.Sub(e.lastEvent) >= r.progressInterval || (progress.IsComplete() && !old.IsComplete()) {
			e.lastEvent = now
			event = &ProgressUpdated{entryEvent{*e}, old, progress}
		}
		return nil
	})
	if event != nil {
		r.events.Send(*event)
	}
}

// End removes the entry for key, if there is one. err is the outcome reported in the DownloadStopped event.
func (r *Registry) End(key string, err error) {
	var entry *Entry
	_ = r.entries.Locked(func(entries entriesByKey) error {
		if e, ok := entries[key]; ok {
			entry = e
			delete(entries, key)
		}
		return nil
	})
	if entry == nil {
		return
	}
	r.log.Debugw("download released", "key", key, "download_id", entry.ID, "error", err)
	r.events.Send(DownloadStopped{entryEvent{*entry}, err})
}

// Lookup returns the latest progress for key, and false if no download to key is in flight.
func (r *Registry) Lookup(key string) (progress Progress, ok bool) {
	_ = r.entries.RLocked(func(entries entriesByKey) error {
		var e *Entry
		if e, ok = entries[key]; ok {
			progress = e.Progress
		}
		return nil
	})
	return progress, ok
}

// List returns a snapshot of all in-flight downloads, oldest first.
func (r *Registry) List() []Entry {
	var list []Entry
	_ = r.entries.RLocked(func(entries entriesByKey) error {
		list = make([]Entry, 0, len(entries))
		for _, e := range entries {
			list = append(list, *e)
		}
		return nil
	})
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
	return list
}

// Subscribe returns a receiver for every event from every download. The receiver must be drained or closed, otherwise
// downloads will block when sending events.
func (r *Registry) Subscribe() (EventReceiver, error) {
	return r.events.Subscribe()
}

// SubscribeKey is like Subscribe, but only receives events for a single destination key.
func (r *Registry) SubscribeKey(key string) (EventReceiver, error) {
	return pubsub.NewFilteredSubscriber[Event](r.events, pubsub.DefaultSubscriberBufSize, func(e Event) bool {
		return e.Entry().Key == key
	})
}

// Close stops event delivery, closing all subscribers. Registration keeps working afterwards.
func (r *Registry) Close() {
	r.events.Close()
}
