package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"
)

// StartEventStream subscribes to the daemon's /events stream. The client
// holds at most one subscription: starting again tears down the previous
// one first. A StreamConnected event is emitted once the subscription is
// live; the stream then runs until the context is cancelled,
// StopEventStream is called, or the connection fails, which emit
// StreamDisconnected and StreamError respectively.
func (c *Client) StartEventStream(ctx context.Context) error {
	c.StopEventStream()

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		cancel()
		return fmt.Errorf("building GET /events: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	res, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return &ConnectionError{Op: "GET /events", Err: err}
	}
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxEventSize))
		res.Body.Close()
		cancel()
		return &APIError{StatusCode: res.StatusCode, Message: errorDetail(body)}
	}

	done := make(chan struct{})
	c.streamMu.Lock()
	prevCancel, prevDone := c.streamCancel, c.streamDone
	c.streamCancel, c.streamDone = cancel, done
	c.streamMu.Unlock()
	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	c.logger.InfoVerbose("event stream connected")
	c.emitStream(EventStreamConnected, nil)
	go c.readEvents(streamCtx, res.Body, done)
	return nil
}

// StopEventStream tears down the current subscription, if any, and waits
// for its reader to finish. The reader emits StreamDisconnected on its way
// out, so listeners have been told by the time this returns. Must not be
// called from an event listener.
func (c *Client) StopEventStream() {
	c.streamMu.Lock()
	cancel, done := c.streamCancel, c.streamDone
	c.streamCancel, c.streamDone = nil, nil
	c.streamMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// StreamActive reports whether an event stream subscription is currently
// installed.
func (c *Client) StreamActive() bool {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	return c.streamCancel != nil
}

func (c *Client) readEvents(ctx context.Context, body io.ReadCloser, done chan struct{}) {
	defer close(done)
	defer body.Close()

	for ev, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfoVerbose("event stream stopped")
				c.emitStream(EventStreamDisconnected, nil)
			} else {
				c.logger.Error("event stream: %v", err)
				c.emitStream(EventStreamError, StreamError{Message: err.Error()})
			}
			return
		}
		if ev.Data == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(ev.Data), &evt); err != nil {
			c.logger.Warning("dropping malformed event: %v", err)
			continue
		}
		c.dispatch.dispatch(evt)
	}

	// The iterator ended without an error: the daemon closed the stream.
	if ctx.Err() != nil {
		c.emitStream(EventStreamDisconnected, nil)
		return
	}
	c.logger.Error("event stream closed by daemon")
	c.emitStream(EventStreamError, StreamError{Message: "event stream closed by daemon"})
}

// emitStream synthesizes a local lifecycle event and delivers it through
// the same dispatch path as daemon events.
func (c *Client) emitStream(eventType string, payload interface{}) {
	evt := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      eventType,
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			evt.Data = b
		}
	}
	c.dispatch.dispatch(evt)
}
