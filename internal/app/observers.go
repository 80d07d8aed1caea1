package app

import (
	"sort"
	"sync"

	"github.com/mselser95/order-reconciler/internal/registry"
)

// observerList fans registry changes out to several observers in order.
type observerList []registry.Observer

func (l observerList) Observe(change registry.Change) {
	for _, o := range l {
		o.Observe(change)
	}
}

// symbolWatcher collects the symbols of active orders that the order stream is
// not yet subscribed to. Observe runs under registry locks, so it only records
// the symbol and signals; the subscribe call happens on the app goroutine.
type symbolWatcher struct {
	mu      sync.Mutex
	pending map[string]struct{}
	taken   map[string]struct{}
	notify  chan struct{}
}

func newSymbolWatcher() *symbolWatcher {
	return &symbolWatcher{
		pending: make(map[string]struct{}),
		taken:   make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

func (w *symbolWatcher) Observe(change registry.Change) {
	if change.Kind == registry.ChangeRemoved || change.Record.Status.IsTerminal() {
		return
	}
	w.add(change.Record.Symbol)
}

func (w *symbolWatcher) add(symbol string) {
	if symbol == "" {
		return
	}

	w.mu.Lock()
	_, seen := w.taken[symbol]
	_, queued := w.pending[symbol]
	if !seen && !queued {
		w.pending[symbol] = struct{}{}
	}
	w.mu.Unlock()

	if seen || queued {
		return
	}
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// take returns the pending symbols, sorted, and marks them subscribed.
func (w *symbolWatcher) take() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	symbols := make([]string, 0, len(w.pending))
	for s := range w.pending {
		symbols = append(symbols, s)
		w.taken[s] = struct{}{}
	}
	clear(w.pending)
	sort.Strings(symbols)
	return symbols
}

// requeue puts symbols whose subscription failed back in the pending set.
func (w *symbolWatcher) requeue(symbols []string) {
	w.mu.Lock()
	for _, s := range symbols {
		delete(w.taken, s)
		w.pending[s] = struct{}{}
	}
	w.mu.Unlock()
}
