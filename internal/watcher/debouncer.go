package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Trigger is a ref change in one repository.
type Trigger struct {
	Repo string
	// Path is the last ref file that changed.
	Path string
	At   time.Time
	// Count is how many raw events were folded into this trigger.
	Count int
}

// Debouncer folds bursts of ref events into one trigger per repository. The
// window restarts on every event; a batch is emitted once it has been quiet
// for the whole window.
type Debouncer struct {
	window  time.Duration
	pending map[string]*Trigger
	mu      sync.Mutex
	output  chan []Trigger
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a new debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*Trigger),
		output:  make(chan []Trigger, 10),
	}
}

// Add records an event for repo.
func (d *Debouncer) Add(repo, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	t, ok := d.pending[repo]
	if !ok {
		t = &Trigger{Repo: repo}
		d.pending[repo] = t
	}
	t.Path = path
	t.At = time.Now()
	t.Count++

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits all pending triggers sorted by repository.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Trigger, 0, len(d.pending))
	for _, t := range d.pending {
		batch = append(batch, *t)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Repo < batch[j].Repo })
	d.pending = make(map[string]*Trigger)

	select {
	case d.output <- batch:
	default:
		// The consumer is still syncing; keep the triggers for the next flush.
		for i := range batch {
			d.pending[batch[i].Repo] = &batch[i]
		}
		d.timer = time.AfterFunc(d.window, d.flush)
		slog.Debug("watch_batch_deferred", slog.Int("repos", len(batch)))
	}
}

// Output returns the channel of debounced batches.
func (d *Debouncer) Output() <-chan []Trigger {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
