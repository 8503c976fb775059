package testutil

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"datec-go/internal/datec"
)

// LogEntry is one captured log call.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger captures log calls. Safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

// Entries returns a copy of the captured entries.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Has reports whether an entry at level contains msg and, if given, the
// key/value pair key=value.
func (l *RecordingLogger) Has(level, msg string, kv ...any) bool {
	for _, e := range l.Entries() {
		if e.Level != level || !strings.Contains(e.Msg, msg) {
			continue
		}
		if len(kv) < 2 || hasPair(e.Args, kv[0], kv[1]) {
			return true
		}
	}
	return false
}

func hasPair(args []any, key, value any) bool {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == key && fmt.Sprint(args[i+1]) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

// RecordingMetrics counts metric calls. Safe for concurrent use.
type RecordingMetrics struct {
	mu         sync.Mutex
	steps      map[string]int
	sagas      map[string]int
	bestEffort map[string]int
	delivered  map[string]int
}

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{
		steps:      make(map[string]int),
		sagas:      make(map[string]int),
		bestEffort: make(map[string]int),
		delivered:  make(map[string]int),
	}
}

func (m *RecordingMetrics) StepFinished(saga, step, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[saga+"/"+step+"/"+outcome]++
}

func (m *RecordingMetrics) SagaFinished(saga, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sagas[saga+"/"+status]++
}

func (m *RecordingMetrics) BestEffortFailed(saga, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bestEffort[saga+"/"+step]++
}

func (m *RecordingMetrics) NotificationDelivered(kind string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[fmt.Sprintf("%s/%v", kind, ok)]++
}

// Step returns how often saga/step finished with outcome.
func (m *RecordingMetrics) Step(saga, step, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[saga+"/"+step+"/"+outcome]
}

// Saga returns how often saga finished with status.
func (m *RecordingMetrics) Saga(saga, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sagas[saga+"/"+status]
}

// BestEffort returns how often saga/step failed best-effort.
func (m *RecordingMetrics) BestEffort(saga, step string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bestEffort[saga+"/"+step]
}

// Delivered returns how many notifications of kind were delivered with ok.
func (m *RecordingMetrics) Delivered(kind string, ok bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered[fmt.Sprintf("%s/%v", kind, ok)]
}

var (
	_ datec.Logger  = (*RecordingLogger)(nil)
	_ datec.Metrics = (*RecordingMetrics)(nil)
)
