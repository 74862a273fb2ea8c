package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Event is one change received from the stream.
type Event struct {
	ID      int64
	Type    string
	Setting string
	Payload json.RawMessage
}

// Stream subscribes to namespace changes after lastEventID, optionally
// limited to one setting. The channel is closed when ctx is done or the
// connection drops.
func (c *Client) Stream(ctx context.Context, lastEventID int64, setting string) (<-chan Event, error) {
	var query url.Values
	if setting != "" {
		query = url.Values{"setting": {setting}}
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/stream", query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastEventID, 10))
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("cerebro: stream connect: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		parseSSE(ctx, bufio.NewReaderSize(resp.Body, 1<<20), events)
	}()
	return events, nil
}

// parseSSE reads id, event and data fields and dispatches on blank lines.
// Multi-line data is joined with newlines.
func parseSSE(ctx context.Context, r *bufio.Reader, events chan<- Event) {
	var (
		event     Event
		dataLines []string
	)

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(dataLines) > 0 {
				event.Payload = json.RawMessage(strings.Join(dataLines, "\n"))
				event.Setting = payloadSetting(event.Payload)
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
			event = Event{ID: event.ID}
			dataLines = nil
		case strings.HasPrefix(line, "id:"):
			if id, parseErr := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "id:")), 10, 64); parseErr == nil {
				event.ID = id
			}
		case strings.HasPrefix(line, "event:"):
			event.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if err != nil {
			return
		}
	}
}

func payloadSetting(payload json.RawMessage) string {
	var body struct {
		Setting string `json:"setting"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.Setting
}
