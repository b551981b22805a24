package worker

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"offworker/strategy"
	"offworker/syncqueue"
)

func newHandlers(w *Worker) *handlers {
	return &handlers{w: w}
}

type handlers struct {
	w *Worker
}

// FetchHandler is the worker's fetch interception point
// It always produces a response: real, cached or a synthetic offline
// fallback. Mutating requests that fail on the network get queued for
// background sync instead.
func (h *handlers) FetchHandler(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		h.forwardMutation(res, req)
		return
	}

	class := strategy.Classify(req)
	name := h.w.strategies.Resolve(class)
	log.Debugf("%s %s class=%s strategy=%s", req.Method, req.URL.Path, class, name)

	resp, err := h.w.exec.Do(req, class, name)
	if err != nil {
		log.Debugf("strategy %s exhausted for %s: %s", name, req.URL.Path, err)
		resp = h.w.exec.OfflineFallback(req, class)
	}
	writeResponse(res, resp)
}

// forwardMutation proxies a mutating request and queues it for background
// sync when the network fails
func (h *handlers) forwardMutation(res http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(res, "failed to read request body", http.StatusBadRequest)
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	resp, err := h.w.exec.Forward(req)
	if err == nil {
		writeResponse(res, resp)
		return
	}

	task := h.taskFromRequest(req, body)
	if qerr := h.w.queue.Enqueue(task); qerr != nil {
		log.Errorf("failed to queue offline mutation: %s", qerr)
		http.Error(res, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Infof("queued offline %s %s as task %s", req.Method, req.URL.Path, task.ID)

	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(http.StatusAccepted)
	json.NewEncoder(res).Encode(&Reply{Ok: true, TaskID: task.ID})
}

// taskFromRequest turns a failed mutating request into a replayable task,
// classified by its content type
func (h *handlers) taskFromRequest(req *http.Request, body []byte) *syncqueue.Task {
	task := &syncqueue.Task{
		Type:   syncqueue.TaskAPICall,
		URL:    h.w.originTarget(req),
		Method: req.Method,
	}
	if auth := req.Header.Get("Authorization"); auth != "" {
		task.Headers = map[string]string{"Authorization": auth}
	}

	mediaType, params, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		fields, file, err := parseMultipartBody(body, params["boundary"])
		if err != nil {
			log.Warnf("failed to parse multipart body, queuing raw: %s", err)
			task.RawBody = body
			task.ContentType = req.Header.Get("Content-Type")
			return task
		}
		task.Fields = fields
		if file != nil {
			task.Type = syncqueue.TaskFileUpload
			task.FileField = file.field
			task.FileName = file.name
			task.FileData = file.data
		} else {
			task.Type = syncqueue.TaskFormSubmission
		}
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			log.Warnf("failed to parse form body, queuing raw: %s", err)
			task.RawBody = body
			task.ContentType = req.Header.Get("Content-Type")
			return task
		}
		task.Type = syncqueue.TaskFormSubmission
		task.Fields = make(map[string]string, len(values))
		for name := range values {
			task.Fields[name] = values.Get(name)
		}
	case "application/json", "":
		task.Body = body
	default:
		// non-JSON payload, keep its own content type for the replay
		task.RawBody = body
		task.ContentType = req.Header.Get("Content-Type")
	}

	return task
}

type filePart struct {
	field string
	name  string
	data  []byte
}

func parseMultipartBody(body []byte, boundary string) (map[string]string, *filePart, error) {
	if boundary == "" {
		return nil, nil, errors.New("multipart body without boundary")
	}

	fields := make(map[string]string)
	var file *filePart
	r := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to read multipart part")
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to read multipart part")
		}
		if part.FileName() != "" {
			// only the first file part is kept for replay
			if file == nil {
				file = &filePart{field: part.FormName(), name: part.FileName(), data: data}
			}
			continue
		}
		fields[part.FormName()] = string(data)
	}

	return fields, file, nil
}

// originTarget resolves a request path to its absolute origin URL so a
// queued task can be replayed without the worker's routing context
func (w *Worker) originTarget(req *http.Request) string {
	return strings.TrimRight(w.c.Origin, "/") + req.URL.RequestURI()
}

// MessageHandler is the control channel endpoint
// The HTTP response is the reply channel the caller supplied
func (h *handlers) MessageHandler(res http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(res, "failed to read message", http.StatusBadRequest)
		return
	}

	reply, err := h.w.HandleMessage(req.Context(), raw)
	if err != nil {
		log.Warnf("control message rejected: %s", err)
		res.Header().Set("Content-Type", "application/json")
		res.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(res).Encode(&Reply{Ok: false, Warning: err.Error()})
		return
	}

	res.Header().Set("Content-Type", "application/json")
	json.NewEncoder(res).Encode(reply)
}

// PushHandler receives a push payload and turns it into a notification
// event, defaulting on malformed bodies
func (h *handlers) PushHandler(res http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(res, "failed to read payload", http.StatusBadRequest)
		return
	}

	payload := ParsePushPayload(raw)
	h.w.emit(Event{Kind: EventNotification, Notification: payload})

	res.Header().Set("Content-Type", "application/json")
	json.NewEncoder(res).Encode(&Reply{Ok: true})
}

// ClickHandler routes a notification click and replies with the decision
func (h *handlers) ClickHandler(res http.ResponseWriter, req *http.Request) {
	var m struct {
		Action       string       `json:"action"`
		Notification *PushPayload `json:"notification"`
		OpenClients  []string     `json:"openClients"`
	}
	if err := json.NewDecoder(req.Body).Decode(&m); err != nil {
		http.Error(res, "failed to parse click", http.StatusBadRequest)
		return
	}

	decision := RouteNotificationClick(m.Action, m.Notification, m.OpenClients)
	res.Header().Set("Content-Type", "application/json")
	json.NewEncoder(res).Encode(&decision)
}

func writeResponse(res http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	for name, values := range resp.Header {
		for _, v := range values {
			res.Header().Add(name, v)
		}
	}
	res.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(res, resp.Body); err != nil {
		log.Debugf("failed to write response body: %s", err)
	}
}
