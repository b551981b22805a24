package worker

import (
	log "github.com/sirupsen/logrus"

	"offworker/syncqueue"
)

// EventKind discriminates outbound worker events
type EventKind string

const (
	// EventNotification asks the host to display a notification
	EventNotification EventKind = "notification"
	// EventUpdateAvailable announces a new worker version
	EventUpdateAvailable EventKind = "update-available"
	// EventOfflineIndicator asks the host to show its offline indicator
	EventOfflineIndicator EventKind = "offline-indicator"
	// EventSyncComplete reports a drain that replayed queued tasks
	EventSyncComplete EventKind = "sync-complete"
	// EventTaskFailed reports a task that permanently failed
	// Emitted once per task, the task is discarded afterwards
	EventTaskFailed EventKind = "task-failed"
	// EventConnectivity reports a connectivity transition
	EventConnectivity EventKind = "connectivity"
)

// Event represents an outbound message to the host page
type Event struct {
	Kind         EventKind       `json:"kind"`
	Notification *PushPayload    `json:"notification,omitempty"`
	Task         *syncqueue.Task `json:"task,omitempty"`
	Error        string          `json:"error,omitempty"`
	Replayed     int             `json:"replayed,omitempty"`
	Failed       int             `json:"failed,omitempty"`
	Online       bool            `json:"online,omitempty"`
	Version      string          `json:"version,omitempty"`
}

// Events returns the outbound event feed
// The feed is buffered, events nobody consumes in time are dropped, except
// task failure reports which evict older events instead
func (w *Worker) Events() <-chan Event {
	return w.events
}

func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
		return
	default:
	}

	if ev.Kind != EventTaskFailed {
		log.Warnf("dropping %s event, feed is full", ev.Kind)
		return
	}

	// a permanent task failure is reported exactly once and the task is
	// already discarded, evict the oldest event rather than lose the report
	for {
		select {
		case old := <-w.events:
			log.Warnf("dropping %s event, feed is full", old.Kind)
		default:
		}
		select {
		case w.events <- ev:
			return
		default:
		}
	}
}
