package apm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mongodb/grip/message"
)

// Call describes one backend request as seen by an Observer.
// Statement is the request payload (a query, a partial document or a
// script) when the operation has one.
type Call struct {
	Backend   string
	Operation string
	Index     string
	ID        string
	Statement map[string]any
}

// Observer is notified around every backend call. Observe returns the
// context to use for the call and a function to run with its result.
type Observer interface {
	Observe(context.Context, Call) (context.Context, func(error))
}

// Monitor is an Observer that aggregates counters per index and
// operation into windows.
type Monitor interface {
	Observer
	// Rotate closes the current window and returns it.
	Rotate() Event
	// Windows returns the retained windows, oldest first.
	Windows() []Event
}

// Event is a closed window of counters.
type Event interface {
	Message() message.Composer
	Records() map[EventKey]EventRecord
	Start() time.Time
}

// EventKey identifies a counter.
type EventKey struct {
	Backend   string `json:"backend"`
	Index     string `json:"index"`
	Operation string `json:"operation"`
}

func (k EventKey) String() string {
	if k.Index == "" {
		return k.Operation
	}
	return k.Index + "." + k.Operation
}

// EventRecord holds the counters of one key.
type EventRecord struct {
	Failed    int64         `json:"failed"`
	Succeeded int64         `json:"succeeded"`
	Duration  time.Duration `json:"duration"`
}

type eventRecord struct {
	failCount    int64
	successCount int64
	durationTime time.Duration
	mutex        sync.Mutex
}

func (r *eventRecord) snapshot() EventRecord {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return EventRecord{Failed: r.failCount, Succeeded: r.successCount, Duration: r.durationTime}
}

type eventWindow struct {
	timestamp time.Time
	data      map[EventKey]*eventRecord
}

func (w *eventWindow) Start() time.Time { return w.timestamp }

func (w *eventWindow) Records() map[EventKey]EventRecord {
	out := make(map[EventKey]EventRecord, len(w.data))
	for k, v := range w.data {
		out[k] = v.snapshot()
	}
	return out
}

func (w *eventWindow) Message() message.Composer {
	records := w.Records()
	keys := make([]EventKey, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	ops := make(map[string]EventRecord, len(records))
	for _, k := range keys {
		ops[k.String()] = records[k]
	}

	return message.MakeFields(message.Fields{
		"message":  "backend operation counters",
		"start_at": w.timestamp,
		"length":   time.Since(w.timestamp).String(),
		"keys":     len(keys),
		"ops":      ops,
	})
}

type basicMonitor struct {
	config *MonitorConfig

	current        map[EventKey]*eventRecord
	currentStartAt time.Time
	currentLock    sync.Mutex

	windows     []Event
	windowsLock sync.Mutex
}

const maxWindows = 100

// NewBasicMonitor builds a Monitor. A nil config tracks everything.
func NewBasicMonitor(config *MonitorConfig) Monitor {
	return &basicMonitor{
		config:         config,
		current:        config.window(),
		currentStartAt: time.Now(),
	}
}

func (m *basicMonitor) Observe(ctx context.Context, call Call) (context.Context, func(error)) {
	key := EventKey{Backend: call.Backend, Index: call.Index, Operation: call.Operation}
	if !m.config.shouldTrack(key) {
		return ctx, func(error) {}
	}

	startAt := time.Now()
	return ctx, func(err error) {
		record := m.getRecord(key)
		record.mutex.Lock()
		defer record.mutex.Unlock()

		if err != nil {
			record.failCount++
		} else {
			record.successCount++
		}
		record.durationTime += time.Since(startAt)
	}
}

func (m *basicMonitor) getRecord(key EventKey) *eventRecord {
	m.currentLock.Lock()
	defer m.currentLock.Unlock()

	event := m.current[key]
	if event == nil {
		event = &eventRecord{}
		m.current[key] = event
	}

	return event
}

func (m *basicMonitor) rotateCurrent() *eventWindow {
	m.currentLock.Lock()
	defer m.currentLock.Unlock()

	out := &eventWindow{
		data:      m.current,
		timestamp: m.currentStartAt,
	}
	m.current = m.config.window()
	m.currentStartAt = time.Now()
	return out
}

func (m *basicMonitor) Rotate() Event {
	window := m.rotateCurrent()

	m.windowsLock.Lock()
	defer m.windowsLock.Unlock()
	m.windows = append(m.windows, window)

	if len(m.windows) > maxWindows {
		m.windows = m.windows[1:]
	}

	return window
}

func (m *basicMonitor) Windows() []Event {
	m.windowsLock.Lock()
	defer m.windowsLock.Unlock()

	return append([]Event(nil), m.windows...)
}
