package builder

import (
	"context"
	"sync"
	"time"
)

// Debouncer coalesces bursts of Schedule calls into one save after a quiet
// period. Only the latest scheduled save runs, and saves never overlap.
type Debouncer struct {
	delay   time.Duration
	save    func(ctx context.Context) error
	onError func(error)
	timeout time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	saveMu sync.Mutex // serializes saves
}

// NewDebouncer creates a Debouncer. onError receives failed saves and may
// be nil.
func NewDebouncer(delay time.Duration, save func(ctx context.Context) error, onError func(error)) *Debouncer {
	return &Debouncer{
		delay:   delay,
		save:    save,
		onError: onError,
		timeout: 30 * time.Second,
	}
}

// Schedule (re)starts the quiet period. A save already pending is
// superseded.
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Pending reports whether a save is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.run(ctx); err != nil && d.onError != nil {
		d.onError(err)
	}
}

func (d *Debouncer) run(ctx context.Context) error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	return d.save(ctx)
}

// Flush runs a pending save now and waits for any save in flight.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	pending := d.timer != nil && d.timer.Stop()
	d.timer = nil
	d.mu.Unlock()

	if pending {
		return d.run(ctx)
	}
	// Wait out a save that already fired.
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	return nil
}

// Close cancels a pending save and rejects further schedules.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
