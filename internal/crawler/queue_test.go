package crawler

import (
	"fmt"
	"sync"
	"testing"
)

// --- Frontier Tests ---

func TestFrontier_Add_NewURL(t *testing.T) {
	q := NewFrontier()

	if !q.Add("https://example.com/page1", 0) {
		t.Error("Add() should return true for new URL")
	}
	if q.Len() != 1 {
		t.Errorf("expected queue length 1, got %d", q.Len())
	}
}

func TestFrontier_Add_DuplicateURL(t *testing.T) {
	q := NewFrontier()

	q.Add("https://example.com/page1", 0)
	if q.Add("https://example.com/page1", 1) {
		t.Error("Add() should return false for duplicate URL")
	}
	if q.Len() != 1 {
		t.Errorf("expected queue length 1, got %d", q.Len())
	}
}

func TestFrontier_Add_Empty(t *testing.T) {
	q := NewFrontier()
	if q.Add("", 0) {
		t.Error("Add() should reject an empty URL")
	}
}

func TestFrontier_Pop_Empty(t *testing.T) {
	q := NewFrontier()

	url, depth, ok := q.Pop()
	if ok || url != "" || depth != 0 {
		t.Errorf("Pop() on empty frontier = %q, %d, %v", url, depth, ok)
	}
}

func TestFrontier_Pop_FIFO_Order(t *testing.T) {
	q := NewFrontier()
	q.Add("https://example.com/1", 0)
	q.Add("https://example.com/2", 1)
	q.Add("https://example.com/3", 0)

	for i, want := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		got, depth, ok := q.Pop()
		if !ok || got != want {
			t.Errorf("Pop() #%d = %q, want %q", i, got, want)
		}
		if i == 1 && depth != 1 {
			t.Errorf("expected depth 1, got %d", depth)
		}
	}
}

func TestFrontier_Add_AfterPop(t *testing.T) {
	q := NewFrontier()
	q.Add("https://example.com/a", 0)
	q.Pop()

	if q.Add("https://example.com/a", 0) {
		t.Error("popped URL should not be queued again")
	}
}

func TestFrontier_ConcurrentAccess(t *testing.T) {
	q := NewFrontier()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Add(fmt.Sprintf("https://example.com/%d", j), n)
			}
		}(i)
	}
	wg.Wait()

	if q.Len() != 100 {
		t.Errorf("expected 100 unique URLs, got %d", q.Len())
	}

	var popped sync.Map
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				u, _, ok := q.Pop()
				if !ok {
					return
				}
				if _, dup := popped.LoadOrStore(u, true); dup {
					t.Errorf("URL %s popped twice", u)
				}
			}
		}()
	}
	wg.Wait()
}
