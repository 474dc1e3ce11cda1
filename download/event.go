package download

import "github.com/alanbriolat/track-archiver/internal/pubsub"

type Event interface {
	// The registry Entry this event relates to, as it was when the event was sent.
	Entry() Entry
}

type entryEvent struct {
	entry Entry
}

func (e entryEvent) Entry() Entry {
	return e.entry
}

type DownloadStarted struct {
	entryEvent
}

type ProgressUpdated struct {
	entryEvent
	OldProgress Progress
	NewProgress Progress
}

type DownloadStopped struct {
	entryEvent
	// Err is nil if the download succeeded (or was skipped because the file already existed).
	Err error
}

// EventReceiver is the receiving end of a registry subscription.
type EventReceiver = pubsub.ReceiverCloser[Event]
