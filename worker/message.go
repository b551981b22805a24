package worker

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"offworker/cache"
	"offworker/syncqueue"
)

// MessageType discriminates control messages from the host page
type MessageType string

const (
	// MsgPrecacheResources fetches a URL batch into the static bucket
	MsgPrecacheResources MessageType = "PRECACHE_RESOURCES"
	// MsgSetupCacheStrategies merges overrides into the strategy mapping
	MsgSetupCacheStrategies MessageType = "SETUP_CACHE_STRATEGIES"
	// MsgAddToSyncQueue queues a task for background sync
	MsgAddToSyncQueue MessageType = "ADD_TO_SYNC_QUEUE"
	// MsgGetCacheStatus reports buckets, queue length and connectivity
	MsgGetCacheStatus MessageType = "GET_CACHE_STATUS"
	// MsgShowNotification displays a notification on the host
	MsgShowNotification MessageType = "SHOW_NOTIFICATION"
	// MsgShowUpdateNotification announces a new version to the host
	MsgShowUpdateNotification MessageType = "SHOW_UPDATE_NOTIFICATION"
	// MsgShowOfflineIndicator asks the host to show its offline indicator
	MsgShowOfflineIndicator MessageType = "SHOW_OFFLINE_INDICATOR"
	// MsgSetOnline forces the connectivity flag
	MsgSetOnline MessageType = "SET_ONLINE"
	// MsgTriggerSync requests an immediate queue drain
	MsgTriggerSync MessageType = "TRIGGER_SYNC"
)

type envelope struct {
	Type MessageType `json:"type"`
}

type precacheMessage struct {
	Resources []string `json:"resources"`
}

type strategiesMessage struct {
	Strategies map[string]string `json:"strategies"`
}

type enqueueMessage struct {
	Task *syncqueue.Task `json:"task"`
}

type notificationMessage struct {
	Notification json.RawMessage `json:"notification"`
}

type updateMessage struct {
	Version string `json:"version"`
}

type onlineMessage struct {
	Online bool `json:"online"`
}

// Reply represents the generic control message reply
type Reply struct {
	Ok        bool   `json:"ok"`
	Warning   string `json:"warning,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Precached int    `json:"precached,omitempty"`
}

// StatusReply represents the GET_CACHE_STATUS reply
type StatusReply struct {
	Caches          map[string]cache.BucketStatus `json:"caches"`
	SyncQueueLength int                           `json:"syncQueueLength"`
	IsOnline        bool                          `json:"isOnline"`
	Version         string                        `json:"version"`
}

// HandleMessage dispatches a raw control message and returns its reply
// An unknown message type is a warned no-op, never an error
func (w *Worker) HandleMessage(ctx context.Context, raw []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "failed to parse message")
	}

	switch env.Type {
	case MsgPrecacheResources:
		var m precacheMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "failed to parse PRECACHE_RESOURCES")
		}
		return &Reply{Ok: true, Precached: w.Precache(ctx, m.Resources)}, nil

	case MsgSetupCacheStrategies:
		var m strategiesMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "failed to parse SETUP_CACHE_STRATEGIES")
		}
		w.strategies.Merge(m.Strategies)
		return &Reply{Ok: true}, nil

	case MsgAddToSyncQueue:
		var m enqueueMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "failed to parse ADD_TO_SYNC_QUEUE")
		}
		if m.Task == nil {
			return nil, errors.New("ADD_TO_SYNC_QUEUE carries no task")
		}
		if err := w.queue.Enqueue(m.Task); err != nil {
			return nil, err
		}
		return &Reply{Ok: true, TaskID: m.Task.ID}, nil

	case MsgGetCacheStatus:
		return w.CacheStatus(), nil

	case MsgShowNotification:
		var m notificationMessage
		// a malformed body still yields the default notification
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Warnf("malformed SHOW_NOTIFICATION message: %s", err)
		}
		w.emit(Event{Kind: EventNotification, Notification: ParsePushPayload(m.Notification)})
		return &Reply{Ok: true}, nil

	case MsgShowUpdateNotification:
		var m updateMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "failed to parse SHOW_UPDATE_NOTIFICATION")
		}
		version := m.Version
		if version == "" {
			version = w.store.Version()
		}
		n := DefaultPushPayload()
		n.Title = "Update available"
		n.Body = "A new version is ready, reload to update"
		n.Actions = []NotificationAction{
			{Action: "reload", Title: "Reload"},
			{Action: "dismiss", Title: "Later"},
		}
		w.emit(Event{Kind: EventUpdateAvailable, Notification: n, Version: version})
		return &Reply{Ok: true}, nil

	case MsgShowOfflineIndicator:
		w.emit(Event{Kind: EventOfflineIndicator, Online: w.IsOnline()})
		return &Reply{Ok: true}, nil

	case MsgSetOnline:
		var m onlineMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "failed to parse SET_ONLINE")
		}
		w.SetOnline(m.Online)
		return &Reply{Ok: true}, nil

	case MsgTriggerSync:
		w.TriggerSync()
		return &Reply{Ok: true}, nil

	default:
		log.Warnf("ignoring unknown message type %q", env.Type)
		return &Reply{Ok: false, Warning: "unknown message type"}, nil
	}
}
