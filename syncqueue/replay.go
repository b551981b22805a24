package syncqueue

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"

	"github.com/pkg/errors"
)

// replay attempts a task's type-specific replay once
func (q *Queue) replay(ctx context.Context, t *Task) error {
	switch t.Type {
	case TaskAPICall:
		return q.replayAPICall(ctx, t)
	case TaskFormSubmission:
		return q.replayFormSubmission(ctx, t)
	case TaskFileUpload:
		return q.replayFileUpload(ctx, t)
	default:
		return errors.Wrapf(ErrUnknownTaskType, "%q", t.Type)
	}
}

// replayAPICall posts the task's body, JSON unless the task recorded the
// payload's own content type
func (q *Queue) replayAPICall(ctx context.Context, t *Task) error {
	body := []byte(t.Body)
	if len(t.RawBody) > 0 {
		body = t.RawBody
	}
	req, err := http.NewRequestWithContext(ctx, taskMethod(t), t.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build replay request")
	}
	contentType := t.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	applyHeaders(req, t)

	return q.send(req)
}

// replayFormSubmission posts the task's fields as multipart form data
func (q *Queue) replayFormSubmission(ctx context.Context, t *Task) error {
	body, contentType, err := multipartBody(t, false)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, taskMethod(t), t.URL, body)
	if err != nil {
		return errors.Wrap(err, "failed to build replay request")
	}
	req.Header.Set("Content-Type", contentType)
	applyHeaders(req, t)

	return q.send(req)
}

// replayFileUpload posts the stored file plus its metadata fields
func (q *Queue) replayFileUpload(ctx context.Context, t *Task) error {
	body, contentType, err := multipartBody(t, true)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, taskMethod(t), t.URL, body)
	if err != nil {
		return errors.Wrap(err, "failed to build replay request")
	}
	req.Header.Set("Content-Type", contentType)
	applyHeaders(req, t)

	return q.send(req)
}

func multipartBody(t *Task, withFile bool) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for name, value := range t.Fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", errors.Wrapf(err, "failed to write field %s", name)
		}
	}
	if withFile {
		field := t.FileField
		if field == "" {
			field = "file"
		}
		name := t.FileName
		if name == "" {
			name = "upload.bin"
		}
		part, err := w.CreateFormFile(field, name)
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to create file part")
		}
		if _, err := part.Write(t.FileData); err != nil {
			return nil, "", errors.Wrap(err, "failed to write file part")
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "failed to finish multipart body")
	}

	return buf, w.FormDataContentType(), nil
}

func (q *Queue) send(req *http.Request) error {
	resp, err := q.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "replay request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("replay returned status %d", resp.StatusCode)
	}

	return nil
}

func taskMethod(t *Task) string {
	if t.Method != "" {
		return t.Method
	}

	return http.MethodPost
}

func applyHeaders(req *http.Request, t *Task) {
	for name, value := range t.Headers {
		req.Header.Set(name, value)
	}
}
