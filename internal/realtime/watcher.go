package realtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

// ErrReconnectLimit is returned once a watcher has used all its attempts.
var ErrReconnectLimit = errors.New("realtime: reconnect attempts exhausted")

// Message is one decoded server-push event.
type Message struct {
	// Event is the SSE event name; empty for heartbeats.
	Event string
	Type  domain.EventType
	Data  json.RawMessage
}

// Transport delivers messages until the connection fails or ctx ends.
type Transport interface {
	Stream(ctx context.Context, deliver func(Message)) error
}

// SSETransport reads a text/event-stream endpoint.
type SSETransport struct {
	URL        string
	HTTPClient *http.Client
}

// Stream opens the event stream and delivers each frame.
func (t *SSETransport) Stream(ctx context.Context, deliver func(Message)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stream returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var (
		event string
		data  bytes.Buffer
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if msg, ok := decodeFrame(event, data.Bytes()); ok {
					deliver(msg)
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return io.ErrUnexpectedEOF
}

func decodeFrame(event string, data []byte) (Message, bool) {
	var payload struct {
		Type domain.EventType `json:"type"`
		Data json.RawMessage  `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Message{}, false
	}
	return Message{Event: event, Type: payload.Type, Data: payload.Data}, true
}

// PollingTransport fetches a snapshot endpoint on an interval and delivers
// the changes it sees. Event selects listing or comment semantics.
type PollingTransport struct {
	URL        string
	Event      string
	Interval   time.Duration
	HTTPClient *http.Client
}

// Stream polls until a fetch fails or ctx ends.
func (t *PollingTransport) Stream(ctx context.Context, deliver func(Message)) error {
	interval := t.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last     []byte
		comments int
		first    = true
	)
	for {
		body, err := t.fetch(ctx)
		if err != nil {
			return err
		}
		switch t.Event {
		case EventCommentUpdate:
			var items []json.RawMessage
			if err := json.Unmarshal(body, &items); err != nil {
				return fmt.Errorf("decode comments: %w", err)
			}
			if first {
				deliver(Message{Event: t.Event, Type: domain.EventInitial, Data: body})
			} else {
				for _, item := range items[min(comments, len(items)):] {
					deliver(Message{Event: t.Event, Type: domain.EventNewComment, Data: item})
				}
			}
			comments = len(items)
		default:
			if first {
				deliver(Message{Event: EventListingUpdate, Type: domain.EventInitial, Data: body})
			} else if !bytes.Equal(body, last) {
				deliver(Message{Event: EventListingUpdate, Type: domain.EventUpdate, Data: body})
			}
			last = body
		}
		first = false

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *PollingTransport) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}
	return bytes.TrimSpace(body), nil
}

// Watcher keeps a transport connected, reconnecting with linear backoff.
type Watcher struct {
	Transport Transport
	// MaxAttempts bounds consecutive failed connections.
	MaxAttempts int
	// Backoff is multiplied by the failure count before each reconnect.
	Backoff time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewWatcher creates a watcher with 5 attempts and a 3 second backoff step.
func NewWatcher(transport Transport) *Watcher {
	return &Watcher{
		Transport:   transport,
		MaxAttempts: 5,
		Backoff:     3 * time.Second,
		sleep:       sleepContext,
	}
}

// Run delivers messages until ctx ends or the attempts run out. A connection
// that delivered at least one message resets the failure count.
func (w *Watcher) Run(ctx context.Context, deliver func(Message)) error {
	sleep := w.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	failures := 0
	for {
		delivered := false
		err := w.Transport.Stream(ctx, func(msg Message) {
			delivered = true
			deliver(msg)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			failures = 0
		}
		failures++
		if failures >= w.MaxAttempts {
			log.Printf("level=warn component=watcher attempts=%d msg=\"giving up on realtime stream\" err=%v", failures, err)
			return ErrReconnectLimit
		}
		backoff := time.Duration(failures) * w.Backoff
		log.Printf("level=info component=watcher attempt=%d backoff=%s msg=\"realtime stream lost; reconnecting\" err=%v", failures, backoff, err)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
