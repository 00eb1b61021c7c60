package datasvc

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// sseDriver performs a bounded, one-shot collection over a server-push
// connection: every received event payload is accumulated in order until
// the server signals completion or the inactivity timeout elapses,
// whichever comes first. It is not a long-lived subscription.
type sseDriver struct {
	client     *http.Client
	inactivity time.Duration
}

func newSSEDriver(client *http.Client, inactivity time.Duration) *sseDriver {
	return &sseDriver{client: client, inactivity: inactivity}
}

type sseEvent struct {
	name string
	data string
}

// completionEvent reports whether an event is the server's logical
// completion signal.
func completionEvent(ev sseEvent) bool {
	switch ev.name {
	case "done", "complete", "end":
		return true
	}
	return ev.data == "[DONE]"
}

// collect opens the stream and gathers decoded event payloads. The second
// return reports whether collection ended on the inactivity timeout; the
// partial sequence gathered so far is still returned in that case.
func (d *sseDriver) collect(ctx context.Context, feature, rawurl string, query Params, headers map[string]string) (*driverResult, bool, error) {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, &Error{
			Type:      ErrorTypeTransport,
			Feature:   feature,
			Message:   "building stream request failed",
			Method:    http.MethodGet,
			URL:       target,
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, false, &Error{
			Type:      ErrorTypeTransport,
			Feature:   feature,
			Message:   "opening stream failed",
			Method:    http.MethodGet,
			URL:       target,
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, false, &Error{
			Type:       classifyStatus(resp.StatusCode),
			Feature:    feature,
			Message:    "stream rejected: " + resp.Status,
			Method:     http.MethodGet,
			URL:        target,
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}

	events := make(chan sseEvent)
	readErr := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)

		var name string
		var data []string
		flush := func() {
			if len(data) == 0 && name == "" {
				return
			}
			select {
			case events <- sseEvent{name: name, data: strings.Join(data, "\n")}:
			case <-quit:
			}
			name = ""
			data = nil
		}
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				flush()
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			}
			// Comment lines (":heartbeat") and unknown fields are dropped
			// but still count as stream activity via the scan itself.
		}
		flush()
		readErr <- scanner.Err()
	}()

	var payloads []any
	size := 0
	timer := time.NewTimer(d.inactivity)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Stream closed by the server. A clean close counts as
				// logical completion; a broken read propagates.
				if err := <-readErr; err != nil {
					resp.Body.Close()
					return nil, false, &Error{
						Type:      ErrorTypeTransport,
						Feature:   feature,
						Message:   "stream read failed",
						Method:    http.MethodGet,
						URL:       target,
						Timestamp: time.Now(),
						Cause:     err,
					}
				}
				resp.Body.Close()
				return &driverResult{
					payload:      payloads,
					status:       resp.StatusCode,
					header:       resp.Header,
					responseSize: size,
				}, false, nil
			}
			if completionEvent(ev) {
				resp.Body.Close()
				return &driverResult{
					payload:      payloads,
					status:       resp.StatusCode,
					header:       resp.Header,
					responseSize: size,
				}, false, nil
			}
			if ev.data != "" {
				payloads = append(payloads, decodePayload([]byte(ev.data)))
				size += len(ev.data)
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(d.inactivity)

		case <-timer.C:
			// Inactivity timeout: close the connection, keep what we have.
			resp.Body.Close()
			return &driverResult{
				payload:      payloads,
				status:       resp.StatusCode,
				header:       resp.Header,
				responseSize: size,
			}, true, nil

		case <-ctx.Done():
			resp.Body.Close()
			return nil, false, &Error{
				Type:      ErrorTypeTransport,
				Feature:   feature,
				Message:   "stream cancelled",
				Method:    http.MethodGet,
				URL:       target,
				Timestamp: time.Now(),
				Cause:     ctx.Err(),
			}
		}
	}
}
