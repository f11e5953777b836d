// Package notify streams work-order log entries to configured HTTP hooks.
// Delivery is at-least-once per hook: each hook keeps its own cursor into the
// log and a failed delivery halts that hook's stream until the next tick.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// Transport delivers one log entry to one hook. The default transport posts
// JSON over HTTP; tests bind their own.
type Transport interface {
	Deliver(ctx context.Context, hook config.Hook, evt domain.Event) error
}

type Dispatcher struct {
	repo      repo.Repo
	hooks     []config.Hook
	interval  time.Duration
	transport Transport

	mu      sync.Mutex
	cursors map[int]int64
	stop    chan struct{}
	done    chan struct{}
}

func NewDispatcher(r repo.Repo, hooks []config.Hook) *Dispatcher {
	return &Dispatcher{
		repo:      r,
		hooks:     hooks,
		interval:  defaultInterval,
		transport: httpTransport{client: &http.Client{Timeout: defaultTimeout}},
		cursors:   make(map[int]int64),
	}
}

// BindTransport swaps the delivery mechanism. Must be called before Start.
func (d *Dispatcher) BindTransport(t Transport) {
	d.transport = t
}

// Start launches the background poller. A dispatcher with no usable hooks
// starts nothing.
func (d *Dispatcher) Start() {
	if d.stop != nil {
		return
	}
	usable := false
	for _, hook := range d.hooks {
		if hookEnabled(hook) {
			usable = true
			break
		}
	}
	if !usable {
		return
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run()
}

// Stop halts the poller and waits for the in-flight pass to finish.
func (d *Dispatcher) Stop() {
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.done
	d.stop = nil
}

// Notify posts an ad-hoc notification to every enabled hook whose filter
// matches the event. Fire and forget: delivery failures are logged and never
// returned, and hook cursors are untouched.
func (d *Dispatcher) Notify(event string, recipients []string, payload map[string]any) {
	if d == nil {
		return
	}
	details := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		details[k] = v
	}
	if len(recipients) > 0 {
		details["recipients"] = recipients
	}
	evt := domain.Event{
		Action:  event,
		TS:      time.Now().UTC().Format(time.RFC3339),
		Details: details,
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	for _, hook := range d.hooks {
		if !hookEnabled(hook) {
			continue
		}
		if !newEventFilter(hook.Events).match(event) {
			continue
		}
		if err := d.transport.Deliver(ctx, hook, evt); err != nil {
			log.Printf("notify: %s to %s failed: %v", event, hook.URL, err)
		}
	}
}

func hookEnabled(hook config.Hook) bool {
	if hook.Enabled != nil && !*hook.Enabled {
		return false
	}
	return strings.TrimSpace(hook.URL) != ""
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchPending()
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}
	}
}

// DispatchPending runs one delivery pass over every enabled hook. Exposed so
// callers can flush synchronously.
func (d *Dispatcher) DispatchPending() {
	for i, hook := range d.hooks {
		if !hookEnabled(hook) {
			continue
		}
		d.dispatchHook(i, hook)
	}
}

func (d *Dispatcher) dispatchHook(idx int, hook config.Hook) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	events, err := d.repo.EventsAfter(ctx, defaultBatch, cursor, "")
	if err != nil {
		log.Printf("notify: fetch events failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Action) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.transport.Deliver(ctx, hook, evt); err != nil {
			log.Printf("notify: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

// cursorFor initializes a hook's cursor to the log tail on first use, so a
// restart does not replay history.
func (d *Dispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.repo.LatestEventID(context.Background())
	if err != nil {
		log.Printf("notify: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type httpTransport struct {
	client *http.Client
}

func (t httpTransport) Deliver(ctx context.Context, hook config.Hook, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	client := t.client
	if hook.TimeoutSeconds > 0 {
		timeout := time.Duration(hook.TimeoutSeconds) * time.Second
		if timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Crewline-Event", evt.Action)
	req.Header.Set("X-Crewline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Crewline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(action string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[action]
	return ok
}
