package dispatcher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// captureLogger collects log lines for assertions.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *captureLogger) Debug(msg string, kv ...any) { l.record("DEBUG", msg, kv) }
func (l *captureLogger) Info(msg string, kv ...any)  { l.record("INFO", msg, kv) }
func (l *captureLogger) Error(msg string, kv ...any) { l.record("ERROR", msg, kv) }

func (l *captureLogger) containsLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, level) {
			return true
		}
	}
	return false
}

func (l *captureLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *captureLogger) {
	t.Helper()
	logger := &captureLogger{}
	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	return d, logger
}

func TestDispatcher_ParamSetRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)

	params := map[string]string{}
	d.Register(":PARAM:SET:", func(e Event) (any, error) {
		if len(e.Args) < 2 {
			return nil, fmt.Errorf("expected field and value")
		}
		params[e.Args[0]] = e.Args[1]
		return "ok", nil
	})

	result, err := d.Dispatch(Event{Command: ":PARAM:SET:", Args: []string{"speed", "4.5"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("expected 'ok', got %v", result)
	}
	if params["speed"] != "4.5" {
		t.Errorf("handler did not store the parameter: %v", params)
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	if _, err := d.Dispatch(Event{Command: ":TELEPORT:"}); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestDispatcher_HandlerErrorPropagates(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":RUN:START:", func(e Event) (any, error) {
		return nil, fmt.Errorf("no course loaded")
	})

	_, err := d.Dispatch(Event{Command: ":RUN:START:", Args: []string{"run one"}})
	if err == nil || !strings.Contains(err.Error(), "no course loaded") {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestDispatcher_BufferedExportAcksImmediately(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var exported atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(":EXPORT:", func(e Event) (any, error) {
		exported.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(8))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: ":EXPORT:"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "queued" {
			t.Errorf("expected 'queued', got %v", result)
		}
	}

	wg.Wait()
	if exported.Load() != 3 {
		t.Errorf("expected 3 exports, got %d", exported.Load())
	}
}

func TestDispatcher_BufferedRejectsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	// Hold the worker so the queue backs up.
	release := make(chan struct{})
	d.Register(":EXPORT:", func(e Event) (any, error) {
		<-release
		return nil, nil
	}, Buffered(2))

	// One in flight plus two queued.
	d.Dispatch(Event{Command: ":EXPORT:"})
	d.Dispatch(Event{Command: ":EXPORT:"})
	d.Dispatch(Event{Command: ":EXPORT:"})

	if _, err := d.Dispatch(Event{Command: ":EXPORT:"}); err == nil {
		t.Error("expected rejection when the queue is full")
	}

	close(release)
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":COURSE:PATH:", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	d.Dispatch(Event{Command: ":COURSE:PATH:", Args: []string{"dock", "[[0,0],[40,0]]"}})

	if logger.count() < 2 {
		t.Errorf("expected start and completion log lines, got %d", logger.count())
	}
	if logger.containsLevel("ERROR") {
		t.Error("unexpected error log for a successful handler")
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":RUN:START:", func(e Event) (any, error) {
		return nil, fmt.Errorf("a run is already in progress")
	}, Logged())

	d.Dispatch(Event{Command: ":RUN:START:"})

	if !logger.containsLevel("ERROR") {
		t.Error("expected error log line")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":STATUS:", func(e Event) (any, error) { return nil, nil })

	if !d.HasHandler(":STATUS:") {
		t.Error("expected handler for :STATUS:")
	}
	if d.HasHandler(":RUN:STOP:") {
		t.Error("did not expect handler for :RUN:STOP:")
	}
}

func TestDispatcher_BufferedAndLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var wg sync.WaitGroup
	wg.Add(1)
	d.Register(":EXPORT:", func(e Event) (any, error) {
		wg.Done()
		return nil, nil
	}, Buffered(4), Logged())

	result, err := d.Dispatch(Event{Command: ":EXPORT:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}
	wg.Wait()

	// Logging wraps the enqueue, so lines appear even before the worker runs.
	if logger.count() < 2 {
		t.Errorf("expected log lines, got %d", logger.count())
	}
}
