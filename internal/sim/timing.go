package sim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimingEvent is one line of the JSONL timing log.
type TimingEvent struct {
	Phase      string  `json:"phase"`
	Kind       string  `json:"kind"`
	File       string  `json:"file,omitempty"`
	Status     string  `json:"status,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
	EndMS      float64 `json:"end_ms"`
}

// TimingRecorder keeps phase timings in memory and, when a path is given,
// appends each event to a JSONL file. Suites running in parallel may share
// one recorder.
type TimingRecorder struct {
	start  time.Time
	mu     sync.Mutex
	events []TimingEvent
	file   *os.File
	enc    *json.Encoder
	err    error
}

func NewTimingRecorder(start time.Time, path string) *TimingRecorder {
	tr := &TimingRecorder{start: start}
	if path == "" {
		return tr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tr.err = err
		return tr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		tr.err = err
		return tr
	}
	tr.file = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *TimingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *TimingRecorder) Close() error {
	if tr == nil || tr.file == nil {
		return nil
	}
	return tr.file.Close()
}

func (tr *TimingRecorder) record(phase Phase, file, status string, start time.Time, duration time.Duration) TimingEvent {
	startMS := durationToMS(start.Sub(tr.start))
	durationMS := durationToMS(duration)
	event := TimingEvent{
		Phase:      string(phase),
		Kind:       "stage",
		File:       file,
		Status:     status,
		StartMS:    startMS,
		DurationMS: durationMS,
		EndMS:      startMS + durationMS,
	}
	tr.mu.Lock()
	tr.events = append(tr.events, event)
	if tr.enc != nil {
		_ = tr.enc.Encode(event)
	}
	tr.mu.Unlock()
	return event
}

// Events returns a copy of everything recorded so far.
func (tr *TimingRecorder) Events() []TimingEvent {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]TimingEvent(nil), tr.events...)
}

func durationToMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000_000.0
}
