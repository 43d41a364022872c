// Package events fans navigation and annotation events out to subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"blog-mirror/annotate"
	"blog-mirror/logging"
	"blog-mirror/metrics"

	"go.uber.org/zap"
)

const (
	EventLoading    = "loading"
	EventAnnotation = "annotation"
	EventPost       = "post"
)

// Event is one state change visible to consumers.
type Event struct {
	Type      string `json:"type"`
	Label     string `json:"label,omitempty"`
	Loading   bool   `json:"loading,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Value     any    `json:"value,omitempty"`
	Category  string `json:"category,omitempty"`
	Post      string `json:"post,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster delivers events to every subscriber. It implements the
// navigator's observer interface.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventSubscribers(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventSubscribers(n)
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			logging.L().Debug("dropping event for slow subscriber", zap.String("type", event.Type))
		}
	}
	metrics.RecordEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) OnLoadingChanged(label string, loading bool) {
	b.Publish(Event{Type: EventLoading, Label: label, Loading: loading})
}

func (b *Broadcaster) OnAnnotationReady(kind annotate.Kind, value any) {
	b.Publish(Event{Type: EventAnnotation, Kind: string(kind), Value: value})
}

func (b *Broadcaster) OnPostChanged(category, post string) {
	b.Publish(Event{Type: EventPost, Category: category, Post: post})
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Handler streams events as server-sent events until the client
// disconnects.
func (b *Broadcaster) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := b.Subscribe()
		defer b.Unsubscribe(ch)

		fmt.Fprintf(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				data, err := MarshalEvent(e)
				if err != nil {
					logging.L().Warn("cannot encode event", zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
				flusher.Flush()
			}
		}
	})
}
