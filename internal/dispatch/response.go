package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// maxResponseSize bounds non-stream response bodies (4 MB).
const maxResponseSize = 4 * 1024 * 1024

// Response is the typed result of a successful dispatch.
type Response struct {
	DeviceID   string              `json:"device_id"`
	Action     string              `json:"action"`
	Kind       device.ResponseKind `json:"kind"`
	StatusCode int                 `json:"status_code"`

	// Acknowledged is set for Ok responses.
	Acknowledged bool `json:"acknowledged,omitempty"`

	// Data holds the raw body of Serial and Info responses.
	Data json.RawMessage `json:"data,omitempty"`

	// Info is the decoded body of Info responses.
	Info *DeviceInfo `json:"info,omitempty"`

	// Stream is the open body of Stream responses. The caller must close it.
	Stream io.ReadCloser `json:"-"`
}

// DeviceInfo is the body of an Info response.
type DeviceInfo struct {
	Energy  map[string]any `json:"energy,omitempty"`
	Economy map[string]any `json:"economy,omitempty"`
}

// Decode unmarshals a Serial or Info body into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: %s response has no body", ErrMalformedResponse, r.Kind)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

type okBody struct {
	ActionTerminatedCorrectly *bool `json:"action_terminated_correctly"`
}

type errorBody struct {
	Error       *string `json:"error"`
	Description *string `json:"description"`
	Info        string  `json:"info"`
}

// deviceError returns the device error carried by body, if any.
func deviceError(body []byte) (*DeviceError, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var eb errorBody
	if err := json.Unmarshal(trimmed, &eb); err != nil || eb.Error == nil || eb.Description == nil {
		return nil, false
	}
	return &DeviceError{
		Kind:        ErrorKind(*eb.Error),
		Description: *eb.Description,
		Info:        eb.Info,
	}, true
}

// classify turns an HTTP response into a typed Response or error.
// For Stream actions with a 2xx status the body is handed over unread.
func classify(deviceID string, action device.Action, resp *http.Response, release func()) (*Response, error) {
	out := &Response{
		DeviceID:   deviceID,
		Action:     action.Name,
		Kind:       action.Response,
		StatusCode: resp.StatusCode,
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	if ok && action.Response == device.ResponseStream {
		out.Stream = &releasingBody{ReadCloser: resp.Body, release: release}
		return out, nil
	}
	defer release()
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrRequestFailed, err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxResponseSize)
	}

	if de, found := deviceError(body); found {
		de.DeviceID = deviceID
		de.Action = action.Name
		de.StatusCode = resp.StatusCode
		return nil, de
	}
	if !ok {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrRequestFailed, resp.StatusCode)
	}

	switch action.Response {
	case device.ResponseOk:
		if len(bytes.TrimSpace(body)) == 0 {
			out.Acknowledged = true
			return out, nil
		}
		var ob okBody
		if err := json.Unmarshal(body, &ob); err != nil || ob.ActionTerminatedCorrectly == nil {
			return nil, fmt.Errorf("%w: expected acknowledgement, got %q", ErrMalformedResponse, truncate(body))
		}
		out.Acknowledged = *ob.ActionTerminatedCorrectly

	case device.ResponseSerial:
		if !json.Valid(body) {
			return nil, fmt.Errorf("%w: serial body is not JSON", ErrMalformedResponse)
		}
		out.Data = json.RawMessage(body)

	case device.ResponseInfo:
		var info DeviceInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, fmt.Errorf("%w: info body: %w", ErrMalformedResponse, err)
		}
		out.Data = json.RawMessage(body)
		out.Info = &info

	case device.ResponseStream:
		// Non-2xx stream responses were handled above.
	}

	return out, nil
}

// releasingBody runs release once the caller closes the stream.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func truncate(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
