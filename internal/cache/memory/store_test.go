package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahandley/textline/internal/ports"
)

func TestStore_SetGet(t *testing.T) {
	s := New()
	defer s.Close()
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

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestStore_SetNX(t *testing.T) {
	s := New()
	defer s.Close()
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

	got, _ := s.Get(ctx, "k")
	if string(got) != "first" {
		t.Errorf("value after losing SetNX = %q, want %q", got, "first")
	}
}

func TestStore_SetNX_AfterExpiry(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	if _, err := s.SetNX(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	set, err := s.SetNX(ctx, "k", []byte("v2"), 0)
	if err != nil || !set {
		t.Errorf("SetNX() after expiry = %v, %v, want true, nil", set, err)
	}
}

func TestStore_QueueFIFO(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if err := s.Push(ctx, "q", []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := s.Pop(ctx, "q", time.Second)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Pop() = %q, want %q", got, want)
		}
	}
}

func TestStore_PopTimeout(t *testing.T) {
	s := New()
	defer s.Close()

	start := time.Now()
	_, err := s.Pop(context.Background(), "empty", 50*time.Millisecond)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Pop() error = %v, want ErrNotFound", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("Pop() returned before timeout elapsed")
	}
}

func TestStore_PopBlocksUntilPush(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	done := make(chan []byte, 1)
	go func() {
		v, err := s.Pop(ctx, "q", 2*time.Second)
		if err != nil {
			t.Errorf("Pop() error = %v", err)
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.Push(ctx, "q", []byte("late")); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-done:
		if string(v) != "late" {
			t.Errorf("Pop() = %q, want %q", v, "late")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after Push()")
	}
}
