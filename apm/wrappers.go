package apm

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
)

type loggingMonitor struct {
	Monitor

	every time.Duration
	emit  func(message.Composer)
	done  chan struct{}
}

// NewLoggingMonitor wraps m so that its counters are rotated and logged
// at info level every dur. Windows without calls are rotated but not
// logged. When ctx is canceled the open window is flushed one last
// time so the calls made since the previous tick are not lost.
func NewLoggingMonitor(ctx context.Context, dur time.Duration, m Monitor) Monitor {
	return startLoggingMonitor(ctx, dur, m, func(msg message.Composer) { grip.Info(msg) })
}

func startLoggingMonitor(ctx context.Context, dur time.Duration, m Monitor, emit func(message.Composer)) *loggingMonitor {
	lm := &loggingMonitor{
		Monitor: m,
		every:   dur,
		emit:    emit,
		done:    make(chan struct{}),
	}
	go lm.flushLoop(ctx)
	return lm
}

func (lm *loggingMonitor) flush() {
	window := lm.Monitor.Rotate()
	if len(window.Records()) == 0 {
		return
	}
	lm.emit(window.Message())
}

func (lm *loggingMonitor) flushLoop(ctx context.Context) {
	defer close(lm.done)
	defer recovery.LogStackTraceAndContinue("backend call monitor flusher")

	ticker := time.NewTicker(lm.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lm.flush()
			return
		case <-ticker.C:
			lm.flush()
		}
	}
}
