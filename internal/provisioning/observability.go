package provisioning

import "log"

// Observer receives progress output during provisioning and teardown.
type Observer interface {
	// Printf logs a formatted progress line.
	Printf(format string, v ...any)

	// Progress reports progress for a phase.
	Progress(phase string, current, total int)
}

// ConsoleObserver implements Observer using the standard log package.
type ConsoleObserver struct{}

// NewConsoleObserver creates a new console-based observer.
func NewConsoleObserver() *ConsoleObserver {
	return &ConsoleObserver{}
}

// Printf implements Observer.
func (o *ConsoleObserver) Printf(format string, v ...any) {
	log.Printf(format, v...)
}

// Progress implements Observer.
func (o *ConsoleObserver) Progress(phase string, current, total int) {
	if total == 0 {
		log.Printf("[%s] progress: %d/%d", phase, current, total)
		return
	}
	log.Printf("[%s] progress: %d/%d (%d%%)", phase, current, total, (current*100)/total)
}

// NopObserver discards all output. Used in tests.
type NopObserver struct{}

func (NopObserver) Printf(string, ...any)     {}
func (NopObserver) Progress(string, int, int) {}
