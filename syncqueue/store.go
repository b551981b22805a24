package syncqueue

import (
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// taskKeyPrefix namespaces tasks inside the shared database
const taskKeyPrefix = "task:"

func taskKey(id string) []byte {
	return []byte(taskKeyPrefix + id)
}

// persist writes a task through to the database so it survives a restart
// Failures are logged and swallowed, the in-memory queue keeps working
// Callers hold the queue lock
func (q *Queue) persist(t *Task) {
	if q.db == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		log.Errorf("failed to persist task %s: %s", t.ID, err)
		return
	}
	if err := q.db.Put(taskKey(t.ID), data, nil); err != nil {
		log.Errorf("failed to persist task %s: %s", t.ID, err)
	}
}

// unpersist removes a task from the database
// Callers hold the queue lock
func (q *Queue) unpersist(id string) {
	if q.db == nil {
		return
	}
	if err := q.db.Delete(taskKey(id), nil); err != nil {
		log.Errorf("failed to remove task %s: %s", id, err)
	}
}

// load restores queued tasks from the database
// The timestamp-prefixed ids make the key order chronological
func (q *Queue) load() error {
	iter := q.db.NewIterator(util.BytesPrefix([]byte(taskKeyPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		var t Task
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			log.Errorf("dropping unreadable task %s: %s", iter.Key(), err)
			continue
		}
		q.tasks = append(q.tasks, &t)
	}
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "failed to iterate persisted tasks")
	}
	if len(q.tasks) > 0 {
		log.Infof("restored %d queued sync tasks", len(q.tasks))
	}

	return nil
}
