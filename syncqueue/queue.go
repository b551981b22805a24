package syncqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
)

var (
	// ErrUnknownTaskType represents a task whose type has no replay handler
	// Such a task can never succeed, it is failed immediately instead of retried
	ErrUnknownTaskType = errors.New("unknown sync task type")
)

// TaskType represents the kind of action a task replays
type TaskType string

const (
	// TaskAPICall replays a JSON API call
	TaskAPICall TaskType = "api_call"
	// TaskFormSubmission replays a multipart form submission
	TaskFormSubmission TaskType = "form_submission"
	// TaskFileUpload replays a file upload with its metadata fields
	TaskFileUpload TaskType = "file_upload"
)

// Task represents a queued, retryable action that failed while offline
// Body carries a JSON payload; anything else goes in RawBody with its
// ContentType so persistence never fails on a non-JSON payload
type Task struct {
	ID          string            `json:"id"`
	Type        TaskType          `json:"type"`
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
	RawBody     []byte            `json:"rawBody,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	FileField   string            `json:"fileField,omitempty"`
	FileName    string            `json:"fileName,omitempty"`
	FileData    []byte            `json:"fileData,omitempty"`
	EnqueuedAt  int64             `json:"enqueuedAt"`
	RetryCount  int               `json:"retryCount"`
}

// Config represents a queue config
type Config struct {
	// RetryCeiling is the number of failed replays before a task is
	// permanently failed, defaults to 3
	RetryCeiling int
	// Timeout bounds every replay request
	Timeout time.Duration
	// OnPermanentFailure is called once per task that reached the retry
	// ceiling or carried an unknown type
	OnPermanentFailure func(*Task, error)
}

// New returns a new Queue instance
// db holds the persisted tasks so the queue survives worker restarts;
// a nil db keeps the queue memory only
func New(db *leveldb.DB, c Config) (*Queue, error) {
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	q := &Queue{
		db:           db,
		http:         &http.Client{Timeout: c.Timeout},
		retryCeiling: c.RetryCeiling,
		onPermanent:  c.OnPermanentFailure,
	}
	if db != nil {
		if err := q.load(); err != nil {
			return nil, errors.Wrap(err, "failed to load persisted tasks")
		}
	}

	return q, nil
}

// Queue represents an at-least-once replay queue for offline actions
type Queue struct {
	db           *leveldb.DB
	http         *http.Client
	retryCeiling int
	onPermanent  func(*Task, error)

	m        sync.Mutex
	tasks    []*Task
	draining bool
}

// Enqueue appends a task with a fresh retry count
// Missing ids get a timestamp plus random suffix so ids enqueued within the
// same millisecond cannot collide
func (q *Queue) Enqueue(t *Task) error {
	if t == nil || t.URL == "" {
		return errors.New("task has no URL")
	}

	q.m.Lock()
	defer q.m.Unlock()

	if t.ID == "" {
		t.ID = newTaskID()
	}
	// a non-JSON payload in Body would make the task unmarshalable and
	// silently skip persistence, shunt it into the raw lane instead
	if len(t.Body) > 0 && !json.Valid(t.Body) {
		t.RawBody = []byte(t.Body)
		t.Body = nil
	}
	if t.EnqueuedAt == 0 {
		t.EnqueuedAt = time.Now().UnixMilli()
	}
	t.RetryCount = 0
	q.tasks = append(q.tasks, t)
	q.persist(t)
	log.Debugf("queued %s task %s for %s", t.Type, t.ID, t.URL)

	return nil
}

// Len returns the number of queued tasks
func (q *Queue) Len() int {
	q.m.Lock()
	defer q.m.Unlock()

	return len(q.tasks)
}

// DrainResult represents the outcome of a single drain pass
type DrainResult struct {
	Replayed int
	Retried  int
	Failed   int
}

// Drain replays every queued task once over a snapshot of the current queue
// Successful and permanently failed tasks are removed, everything else stays
// queued for the next pass
// Concurrent drains are collapsed: while one is running, further calls
// return immediately so no task is replayed twice
func (q *Queue) Drain(ctx context.Context) DrainResult {
	q.m.Lock()
	if q.draining {
		q.m.Unlock()
		log.Debug("drain already in progress")
		return DrainResult{}
	}
	q.draining = true
	snapshot := append([]*Task(nil), q.tasks...)
	q.m.Unlock()

	defer func() {
		q.m.Lock()
		q.draining = false
		q.m.Unlock()
	}()

	var res DrainResult
	var done []string
	for _, t := range snapshot {
		select {
		case <-ctx.Done():
			q.remove(done)
			return res
		default:
		}

		err := q.replay(ctx, t)
		if err == nil {
			log.Debugf("replayed task %s", t.ID)
			done = append(done, t.ID)
			res.Replayed++
			continue
		}
		if errors.Is(err, ErrUnknownTaskType) {
			q.reportPermanent(t, err)
			done = append(done, t.ID)
			res.Failed++
			continue
		}

		t.RetryCount++
		if t.RetryCount >= q.retryCeiling {
			q.reportPermanent(t, err)
			done = append(done, t.ID)
			res.Failed++
			continue
		}
		log.Debugf("task %s failed (attempt %d): %s", t.ID, t.RetryCount, err)
		q.m.Lock()
		q.persist(t)
		q.m.Unlock()
		res.Retried++
	}
	q.remove(done)

	return res
}

func (q *Queue) reportPermanent(t *Task, err error) {
	log.Warnf("task %s permanently failed: %s", t.ID, err)
	if q.onPermanent != nil {
		q.onPermanent(t, err)
	}
}

func (q *Queue) remove(ids []string) {
	if len(ids) == 0 {
		return
	}
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}

	q.m.Lock()
	defer q.m.Unlock()

	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if gone[t.ID] {
			q.unpersist(t.ID)
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
}
