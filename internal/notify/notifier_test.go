package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingLogger struct {
	infos  int
	errors int
}

func (l *recordingLogger) Info(string, ...any)  { l.infos++ }
func (l *recordingLogger) Error(string, ...any) { l.errors++ }

type failingNotifier struct{}

func (failingNotifier) Name() string                      { return "failing" }
func (failingNotifier) Send(context.Context, Event) error { return errors.New("boom") }

func TestMultiLogsFailuresWithoutPropagating(t *testing.T) {
	log := &recordingLogger{}
	m := NewMulti(log, failingNotifier{}, NewLogNotifier(log))

	m.Notify(context.Background(), Event{
		Type:      EventUpdateFailed,
		Module:    "foo",
		Timestamp: time.Now(),
	})

	if log.errors != 1 {
		t.Errorf("error logs = %d, want 1", log.errors)
	}
	// The log notifier still ran after the failing one.
	if log.infos != 1 {
		t.Errorf("info logs = %d, want 1", log.infos)
	}
}

func TestMultiWithNoNotifiersIsNoop(t *testing.T) {
	log := &recordingLogger{}
	m := NewMulti(log)
	m.Notify(context.Background(), Event{Type: EventUpdateStarted, Module: "foo"})
	if log.errors != 0 {
		t.Errorf("error logs = %d, want 0", log.errors)
	}
}
