package main

import (
	"net/http"
	"sync"
)

// handlerSwapper is an http.Handler whose target can be replaced while the
// listener stays up. serve swaps in a freshly wired API on SIGHUP.
type handlerSwapper struct {
	mu      sync.RWMutex
	handler http.Handler
}

func newHandlerSwapper(h http.Handler) *handlerSwapper {
	return &handlerSwapper{handler: h}
}

func (s *handlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	h.ServeHTTP(w, r)
}

// Swap replaces the underlying handler and returns the previous one.
func (s *handlerSwapper) Swap(h http.Handler) http.Handler {
	s.mu.Lock()
	prev := s.handler
	s.handler = h
	s.mu.Unlock()
	return prev
}
