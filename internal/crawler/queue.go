package crawler

import (
	"sync"
)

// Frontier holds the URLs of one deep-crawl pass that are known but not yet
// fetched. It is safe for concurrent use by the worker pool.
type Frontier struct {
	mu    sync.Mutex
	queue []queueItem
	seen  map[string]bool
}

type queueItem struct {
	URL   string
	Depth int
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		queue: make([]queueItem, 0),
		seen:  make(map[string]bool),
	}
}

// Add queues a canonical URL unless it was queued before.
func (q *Frontier) Add(rawURL string, depth int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if rawURL == "" || q.seen[rawURL] {
		return false
	}

	q.seen[rawURL] = true
	q.queue = append(q.queue, queueItem{URL: rawURL, Depth: depth})
	return true
}

// Pop removes and returns the oldest queued URL.
func (q *Frontier) Pop() (string, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return "", 0, false
	}

	item := q.queue[0]
	q.queue = q.queue[1:]
	return item.URL, item.Depth, true
}

// Len returns the number of queued URLs.
func (q *Frontier) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

