package datasvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a response body is read into memory.
const maxResponseBytes = 10 * 1024 * 1024

// driverResult is what a protocol driver hands back to the facade: the
// decoded payload plus the wire-level details telemetry wants.
type driverResult struct {
	payload      any
	status       int
	header       http.Header
	requestSize  int
	responseSize int
}

// restDriver issues one-shot request/response calls. Reads pass remaining
// parameters as query values; writes carry a pre-encoded body so retries
// re-issue a byte-identical request.
type restDriver struct {
	client *http.Client
}

func newRESTDriver(client *http.Client) *restDriver {
	return &restDriver{client: client}
}

func (d *restDriver) do(ctx context.Context, feature, method, rawurl string, query Params, body []byte, contentType string, headers map[string]string) (*driverResult, error) {
	target := rawurl
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, stringifyParam(v))
		}
		sep := "?"
		if strings.Contains(rawurl, "?") {
			sep = "&"
		}
		target = rawurl + sep + values.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &Error{
			Type:      ErrorTypeTransport,
			Feature:   feature,
			Message:   "building request failed",
			Method:    method,
			URL:       target,
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &Error{
			Type:      ErrorTypeTransport,
			Feature:   feature,
			Message:   "no response from server",
			Method:    method,
			URL:       target,
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{
			Type:       ErrorTypeTransport,
			Feature:    feature,
			Message:    "reading response body failed",
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
			Cause:      err,
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Type:       classifyStatus(resp.StatusCode),
			Feature:    feature,
			Message:    errorMessageFromBody(raw, resp.Status),
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}

	return &driverResult{
		payload:      decodePayload(raw),
		status:       resp.StatusCode,
		header:       resp.Header,
		requestSize:  len(body),
		responseSize: len(raw),
	}, nil
}

// decodePayload interprets a response body as JSON, falling back to the
// raw text when the body is not valid JSON. Empty bodies decode to nil.
func decodePayload(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// errorMessageFromBody prefers a structured {"error": ...} or
// {"message": ...} body over the bare HTTP status line.
func errorMessageFromBody(raw []byte, statusLine string) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return statusLine
}
