package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// actionURL joins base URL, main route and action route, normalising slashes.
func actionURL(dev *device.Device, action device.Action) string {
	parts := []string{strings.TrimRight(dev.BaseURL, "/")}
	for _, p := range []string{dev.MainRoute, action.Route} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// buildRequest creates the single HTTP request for an action.
//
// GET requests to Os devices carry their arguments as path segments in
// schema order. Every other request carries them as a JSON object body.
func buildRequest(ctx context.Context, dev *device.Device, action device.Action, values []device.Value) (*http.Request, error) {
	url := actionURL(dev, action)

	var body io.Reader
	pathEncoded := action.Method == device.MethodGet && dev.Environment == device.EnvironmentOS

	switch {
	case pathEncoded:
		var b strings.Builder
		b.WriteString(url)
		for _, v := range values {
			b.WriteByte('/')
			b.WriteString(v.PathSegment())
		}
		url = b.String()
	case len(values) > 0:
		obj := make(map[string]any, len(values))
		for _, v := range values {
			obj[v.Name] = v.Value
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding arguments: %w", ErrInvalidParameter, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, string(action.Method), url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
