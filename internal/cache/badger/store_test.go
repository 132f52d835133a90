package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ahandley/textline/internal/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{}) // in-memory
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SetGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_TTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestStore_SetNX(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set, err := s.SetNX(ctx, "k", []byte("first"), 0)
	if err != nil || !set {
		t.Fatalf("first SetNX() = %v, %v, want true, nil", set, err)
	}

	set, err = s.SetNX(ctx, "k", []byte("second"), 0)
	if err != nil {
		t.Fatalf("second SetNX() error = %v", err)
	}
	if set {
		t.Error("second SetNX() = true, want false")
	}
}

func TestStore_SetNX_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := s.SetNX(ctx, "contested", []byte("x"), time.Minute)
			if err != nil {
				t.Errorf("SetNX() error = %v", err)
				return
			}
			wins <- set
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for set := range wins {
		if set {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("concurrent SetNX winners = %d, want exactly 1", winners)
	}
}

func TestStore_QueueOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"one", "two", "three"} {
		if err := s.Push(ctx, "jobs", []byte(v)); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		got, err := s.Pop(ctx, "jobs", time.Second)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Pop() = %q, want %q", got, want)
		}
	}
}

func TestStore_PopTimeout(t *testing.T) {
	s := newTestStore(t)

	start := time.Now()
	_, err := s.Pop(context.Background(), "empty", 120*time.Millisecond)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Pop() error = %v, want ErrNotFound", err)
	}
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Errorf("Pop() returned after %v, before timeout", elapsed)
	}
}
