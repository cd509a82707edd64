package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// clientLimiter admits at most requests calls per client within any sliding
// window. Each client keeps the times of its admitted requests, oldest first.
type clientLimiter struct {
	mu       sync.Mutex
	requests int
	window   time.Duration
	now      func() time.Time
	clients  map[string][]time.Time
}

func newClientLimiter(requests int, window time.Duration, now func() time.Time) *clientLimiter {
	if requests < 1 {
		requests = 1
	}
	return &clientLimiter{
		requests: requests,
		window:   window,
		now:      now,
		clients:  make(map[string][]time.Time),
	}
}

// Allow reports whether client may make a request now and records it if so.
func (l *clientLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent, ok := l.clients[client]
	if !ok {
		l.pruneLocked(now)
	}
	recent = l.expire(recent, now)
	if len(recent) >= l.requests {
		l.clients[client] = recent
		return false
	}
	l.clients[client] = append(recent, now)
	return true
}

// expire drops request times that have left the window.
func (l *clientLimiter) expire(times []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(times) && now.Sub(times[i]) >= l.window {
		i++
	}
	return times[i:]
}

// pruneLocked forgets clients with no request inside the window.
func (l *clientLimiter) pruneLocked(now time.Time) {
	for c, times := range l.clients {
		if len(l.expire(times, now)) == 0 {
			delete(l.clients, c)
		}
	}
}

// clientIP returns the request's client address. X-Forwarded-For is only
// honoured when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
