package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"

	"offworker/cache"
	"offworker/strategy"
	"offworker/syncqueue"
)

// LifecycleState represents the worker's position in its lifecycle
// state machine, there are no backward transitions
type LifecycleState string

const (
	// StateInstalling represents a worker precaching its static set
	StateInstalling LifecycleState = "installing"
	// StateInstalled represents a worker ready to activate
	StateInstalled LifecycleState = "installed"
	// StateActivating represents a worker purging stale bucket versions
	StateActivating LifecycleState = "activating"
	// StateActivated represents a fully running worker
	StateActivated LifecycleState = "activated"
)

// New creates a new worker instance
func New(c *Config) (*Worker, error) {
	if err := c.compile(); err != nil {
		return nil, err
	}

	var db *leveldb.DB
	if c.DataDir != "" {
		var err error
		db, err = leveldb.OpenFile(c.DataDir, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open worker database")
		}
	}

	store, err := cache.New(db, c.Version, c.classConfigs)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		c:          c,
		db:         db,
		store:      store,
		strategies: strategy.NewConfig(c.initialStrategies()),
		runner:     newTaskRunner(),
		cron:       cron.New(),
		events:     make(chan Event, 64),
		isOnline:   true,
	}

	w.exec, err = strategy.NewExecutor(store, strategy.ExecutorConfig{
		Origin:          c.Origin,
		Timeout:         c.networkTimeout,
		OfflinePage:     c.OfflinePage,
		Detach:          w.runner.Submit,
		OnNetworkResult: w.SetOnline,
	})
	if err != nil {
		return nil, err
	}

	w.queue, err = syncqueue.New(db, syncqueue.Config{
		RetryCeiling:       c.RetryCeiling,
		Timeout:            c.networkTimeout,
		OnPermanentFailure: w.onTaskFailed,
	})
	if err != nil {
		return nil, err
	}

	return w, nil
}

// Worker represents a running worker instance
// It owns all mutable runtime state: lifecycle, connectivity, strategy
// mapping and the sync queue, all reset together on restart
type Worker struct {
	c          *Config
	db         *leveldb.DB
	store      *cache.Store
	strategies *strategy.Config
	exec       *strategy.Executor
	queue      *syncqueue.Queue
	runner     *taskRunner
	cron       *cron.Cron
	events     chan Event

	m        sync.Mutex
	state    LifecycleState
	isOnline bool
}

// Start runs the worker through install and activation and begins
// background maintenance
func (w *Worker) Start(ctx context.Context) error {
	w.runner.Start()

	if err := w.install(ctx); err != nil {
		return err
	}
	if err := w.Activate(); err != nil {
		return err
	}

	if _, err := w.cron.AddFunc(w.c.MaintainEvery, w.maintain); err != nil {
		return errors.Wrap(err, "failed to schedule maintenance")
	}
	w.cron.Start()
	log.Infof("worker %s activated, maintenance scheduled %q", w.c.Version, w.c.MaintainEvery)

	return nil
}

// Close stops background work and releases the database
func (w *Worker) Close() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.runner.Stop()
	if w.db != nil {
		w.db.Close()
	}
}

// install precaches the configured static set
// Per-URL failures are isolated, one bad URL never aborts the install
func (w *Worker) install(ctx context.Context) error {
	w.setState(StateInstalling)
	n := w.Precache(ctx, w.c.Precache)
	if len(w.c.Precache) > 0 {
		log.Infof("precached %d/%d resources", n, len(w.c.Precache))
	}
	w.setState(StateInstalled)

	return nil
}

// Activate purges stale bucket versions
// Running activation twice leaves the same bucket set as running it once
func (w *Worker) Activate() error {
	w.setState(StateActivating)
	if err := w.store.PurgeStaleVersions(); err != nil {
		return errors.Wrap(err, "activation failed")
	}
	w.setState(StateActivated)

	return nil
}

// Precache fetches each URL into the static bucket, returning the number
// of resources stored
func (w *Worker) Precache(ctx context.Context, urls []string) int {
	n := 0
	for _, u := range urls {
		if err := w.exec.Warm(ctx, u, cache.ClassStatic); err != nil {
			log.Warnf("failed to precache %s: %s", u, err)
			continue
		}
		n++
	}

	return n
}

// State returns the current lifecycle state
func (w *Worker) State() LifecycleState {
	w.m.Lock()
	defer w.m.Unlock()

	return w.state
}

func (w *Worker) setState(s LifecycleState) {
	w.m.Lock()
	w.state = s
	w.m.Unlock()
	log.Debugf("worker state: %s", s)
}

// IsOnline returns the current connectivity flag
func (w *Worker) IsOnline() bool {
	w.m.Lock()
	defer w.m.Unlock()

	return w.isOnline
}

// SetOnline updates the connectivity flag
// The offline to online transition schedules a queue drain
func (w *Worker) SetOnline(online bool) {
	w.m.Lock()
	wasOnline := w.isOnline
	w.isOnline = online
	w.m.Unlock()

	if online && !wasOnline {
		log.Info("connectivity restored")
		w.emit(Event{Kind: EventConnectivity, Online: true})
		w.TriggerSync()
	}
	if !online && wasOnline {
		log.Info("connectivity lost")
		w.emit(Event{Kind: EventConnectivity, Online: false})
	}
}

// TriggerSync schedules a queue drain on the background runner
func (w *Worker) TriggerSync() {
	w.runner.Submit(w.drain)
}

func (w *Worker) drain() {
	if w.queue.Len() == 0 {
		return
	}
	res := w.queue.Drain(context.Background())
	log.Infof("sync drain: %d replayed, %d retried, %d failed", res.Replayed, res.Retried, res.Failed)
	if res.Replayed > 0 {
		w.emit(Event{Kind: EventSyncComplete, Replayed: res.Replayed, Failed: res.Failed})
	}
}

// maintain is the scheduled maintenance tick
func (w *Worker) maintain() {
	w.store.Maintain()
	if w.IsOnline() && w.queue.Len() > 0 {
		w.drain()
	}
}

func (w *Worker) onTaskFailed(t *syncqueue.Task, err error) {
	w.emit(Event{Kind: EventTaskFailed, Task: t, Error: err.Error()})
}

// CacheStatus reports the bucket contents, queue length and connectivity
func (w *Worker) CacheStatus() *StatusReply {
	return &StatusReply{
		Caches:          w.store.Status(),
		SyncQueueLength: w.queue.Len(),
		IsOnline:        w.IsOnline(),
		Version:         w.store.Version(),
	}
}

// ListenAndServe listens for new requests and serves them
func (w *Worker) ListenAndServe() {
	r := w.Router()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tlsEnabled := w.c.TLS.CertFile != "" && w.c.TLS.KeyFile != ""
	if !w.c.TLSOnly {
		go listenAndServe(ctx, cancel, w.c.ListenAddr, r)
	}

	if tlsEnabled {
		go listenAndServeTLS(ctx, cancel, w.c.TLSListenAddr, w.c.TLS, r)
	}

	<-ctx.Done()
}

// Router builds the worker's request router: the control channel under
// /__worker, everything else through the fetch pipeline
func (w *Worker) Router() *mux.Router {
	r := mux.NewRouter()
	h := newHandlers(w)

	r.Path("/__worker/message").HandlerFunc(h.MessageHandler).Methods("POST")
	r.Path("/__worker/push").HandlerFunc(h.PushHandler).Methods("POST")
	r.Path("/__worker/notification-click").HandlerFunc(h.ClickHandler).Methods("POST")
	r.PathPrefix("/").HandlerFunc(h.FetchHandler)

	return r
}

// listenAndServe serves a plain http webserver
func listenAndServe(ctx context.Context, cancel func(), addr string, handler http.Handler) {
	defer cancel()
	addrStr := getAddrString(addr)
	log.Infof("worker listening on: http://%s\n", addrStr)
	log.Error(http.ListenAndServe(addr, handler))
}

// listenAndServeTLS serves a tls webserver
func listenAndServeTLS(ctx context.Context, cancel func(), addr string, tls *TLSConfig, handler http.Handler) {
	defer cancel()
	addrStr := getAddrString(addr)
	log.Infof("worker listening on: https://%s\n", addrStr)
	log.Error(http.ListenAndServeTLS(addr, tls.CertFile, tls.KeyFile, handler))
}

func getAddrString(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = fmt.Sprintf("0.0.0.0%s", addr)
	}
	return addr
}
