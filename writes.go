package datasvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const contentTypeJSON = "application/json"

// CreateData POSTs a JSON body to the feature's endpoint and invalidates
// every cached read for that endpoint on success.
func (s *DataService) CreateData(ctx context.Context, feature string, body Params, opts ...CallOption) (any, error) {
	co := evalCallOptions(opts)
	encoded, err := encodeBody(feature, body)
	if err != nil {
		s.recordError("create", feature, err)
		return nil, err
	}
	return s.write(ctx, "create", feature, http.MethodPost, encoded, contentTypeJSON, co, true)
}

// UpdateData sends a JSON body with the given method (PUT, PATCH or POST;
// empty defaults to PUT) and invalidates the endpoint's cached reads on
// success.
func (s *DataService) UpdateData(ctx context.Context, feature string, body Params, method string, opts ...CallOption) (any, error) {
	co := evalCallOptions(opts)
	switch method {
	case "":
		method = http.MethodPut
	case http.MethodPut, http.MethodPatch, http.MethodPost:
	default:
		err := &Error{
			Type:      ErrorTypeValidation,
			Feature:   feature,
			Message:   fmt.Sprintf("method %q is not valid for updates", method),
			Timestamp: time.Now(),
		}
		s.recordError("update", feature, err)
		return nil, err
	}
	encoded, err := encodeBody(feature, body)
	if err != nil {
		s.recordError("update", feature, err)
		return nil, err
	}
	return s.write(ctx, "update", feature, method, encoded, contentTypeJSON, co, true)
}

// DeleteData issues a DELETE and invalidates the endpoint's cached reads
// on success.
func (s *DataService) DeleteData(ctx context.Context, feature string, opts ...CallOption) (any, error) {
	co := evalCallOptions(opts)
	return s.write(ctx, "delete", feature, http.MethodDelete, nil, "", co, true)
}

// BatchUpdate POSTs the items as one JSON array and invalidates the
// endpoint's cached reads on success.
func (s *DataService) BatchUpdate(ctx context.Context, feature string, items []Params, opts ...CallOption) (any, error) {
	co := evalCallOptions(opts)
	encoded, err := json.Marshal(items)
	if err != nil {
		verr := &Error{
			Type:      ErrorTypeValidation,
			Feature:   feature,
			Message:   "batch items are not serializable",
			Timestamp: time.Now(),
			Cause:     err,
		}
		s.recordError("batch_update", feature, verr)
		return nil, verr
	}
	return s.write(ctx, "batch_update", feature, http.MethodPost, encoded, contentTypeJSON, co, true)
}

// UploadFile POSTs a multipart form with one file part plus extra fields.
// The form is buffered up front so retries re-send identical bytes.
// Uploads do not invalidate cached reads.
func (s *DataService) UploadFile(ctx context.Context, feature string, form FormData, opts ...CallOption) (any, error) {
	co := evalCallOptions(opts)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fileField := form.FileField
	if fileField == "" {
		fileField = "file"
	}
	part, err := w.CreateFormFile(fileField, form.FileName)
	if err == nil && form.Content != nil {
		_, err = io.Copy(part, form.Content)
	}
	if err == nil {
		for k, v := range form.Fields {
			if err = w.WriteField(k, v); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		verr := &Error{
			Type:      ErrorTypeValidation,
			Feature:   feature,
			Message:   "building multipart form failed",
			Timestamp: time.Now(),
			Cause:     err,
		}
		s.recordError("upload", feature, verr)
		return nil, verr
	}

	return s.write(ctx, "upload", feature, http.MethodPost, buf.Bytes(), w.FormDataContentType(), co, false)
}

// write is the shared mutation path. Writes always go over HTTP
// request/response regardless of the endpoint's read protocol, pass
// through the dispatch guards and the retry schedule, and on success
// optionally wipe the endpoint's cached reads by resolved-URL prefix.
func (s *DataService) write(ctx context.Context, op, feature, method string, body []byte, contentType string, co callOptions, invalidate bool) (any, error) {
	start := time.Now()
	s.metrics.RecordRequestStart(op, feature)
	defer s.metrics.RecordRequestEnd(op, feature)

	if _, ok := s.registry.Lookup(feature); !ok {
		err := &Error{
			Type:      ErrorTypeUnknownFeature,
			Feature:   feature,
			Message:   "no endpoint registered for feature",
			Timestamp: time.Now(),
		}
		s.recordError(op, feature, err)
		return nil, err
	}

	resolved, remaining, err := s.registry.Resolve(feature, co.pathParams)
	if err != nil {
		s.recordError(op, feature, err)
		return nil, err
	}

	if err := s.allowDispatch(feature, resolved); err != nil {
		s.recordError(op, feature, err)
		return nil, err
	}

	res, err := s.withRetry(feature, func() (*driverResult, error) {
		return s.rest.do(ctx, feature, method, resolved, remaining, body, contentType, co.headers)
	})
	s.observeDispatch(err)
	if err != nil {
		s.recordError(op, feature, err)
		return nil, err
	}

	if invalidate && s.config.CacheEnabled {
		removed := s.cache.InvalidatePrefix(resolved)
		if removed > 0 {
			s.metrics.RecordInvalidation(feature, removed)
			s.metrics.RecordCacheSize(s.cache.Len())
			s.logger.Debug().
				Str("feature", feature).
				Int("removed", removed).
				Msg("invalidated cached reads after write")
		}
	}

	s.metrics.RecordRequest(op, feature, res.status, time.Since(start))
	s.telemetry.Record(Event{
		Operation:    op,
		Feature:      feature,
		URL:          resolved,
		Method:       method,
		Status:       res.status,
		Duration:     time.Since(start),
		RequestSize:  res.requestSize,
		ResponseSize: res.responseSize,
	})
	return res.payload, nil
}

func encodeBody(feature string, body Params) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(map[string]any(body))
	if err != nil {
		return nil, &Error{
			Type:      ErrorTypeValidation,
			Feature:   feature,
			Message:   "request body is not serializable",
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	return encoded, nil
}
