package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ahandley/textline/internal/domain"
	messengermem "github.com/ahandley/textline/internal/messenger/memory"
	"github.com/ahandley/textline/internal/retry"
)

func fastPolicy(attempts int) *retry.Policy {
	return &retry.Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2.0}
}

func makeMessages(n int) []domain.OutboundMessage {
	msgs := make([]domain.OutboundMessage, n)
	for i := range msgs {
		msgs[i] = domain.OutboundMessage{To: fmt.Sprintf("+1555%07d", i), Body: "hi"}
	}
	return msgs
}

func TestDispatcher_SmallBatch(t *testing.T) {
	m := messengermem.New()
	d, err := New(Options{Messenger: m, WindowSize: 10, Interval: 10 * time.Millisecond, Policy: fastPolicy(3)})
	if err != nil {
		t.Fatal(err)
	}

	result, err := d.SendBatch(context.Background(), makeMessages(5))
	if err != nil {
		t.Fatalf("SendBatch() error = %v", err)
	}
	if len(result.Success) != 5 || len(result.Failed) != 0 {
		t.Errorf("result = %d success, %d failed; want 5, 0", len(result.Success), len(result.Failed))
	}
	if got := d.Stats().Windows; got != 1 {
		t.Errorf("Windows = %d, want 1", got)
	}
}

func TestDispatcher_WindowedDrainWithGaps(t *testing.T) {
	m := messengermem.New()
	interval := 60 * time.Millisecond
	d, err := New(Options{Messenger: m, WindowSize: 80, Interval: interval, Policy: fastPolicy(3)})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	result, err := d.SendBatch(context.Background(), makeMessages(250))
	if err != nil {
		t.Fatalf("SendBatch() error = %v", err)
	}
	elapsed := time.Since(start)

	// 250 messages at window size 80: windows of 80/80/80/10.
	if got := d.Stats().Windows; got != 4 {
		t.Errorf("Windows = %d, want 4", got)
	}
	if total := len(result.Success) + len(result.Failed); total != 250 {
		t.Errorf("accounted messages = %d, want 250", total)
	}
	// Three inter-window gaps at minimum.
	if elapsed < 3*interval {
		t.Errorf("batch finished in %v, want >= %v (rate-limit gaps)", elapsed, 3*interval)
	}
}

func TestDispatcher_PartialFailureAccounting(t *testing.T) {
	m := messengermem.New()
	m.FailTo["+15550000002"] = -1 // permanent
	d, err := New(Options{Messenger: m, WindowSize: 10, Interval: time.Millisecond, Policy: fastPolicy(2)})
	if err != nil {
		t.Fatal(err)
	}

	result, err := d.SendBatch(context.Background(), makeMessages(5))
	if err != nil {
		t.Fatalf("SendBatch() error = %v", err)
	}
	if len(result.Success) != 4 {
		t.Errorf("success = %d, want 4", len(result.Success))
	}
	if len(result.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(result.Failed))
	}
	if result.Failed[0].To != "+15550000002" {
		t.Errorf("failed recipient = %q", result.Failed[0].To)
	}
	if result.Failed[0].Error == "" {
		t.Error("failure must carry the last error, not be silently dropped")
	}
}

func TestDispatcher_TransientFailureRetried(t *testing.T) {
	m := messengermem.New()
	m.FailTo["+15550000001"] = 2 // fails twice, then succeeds
	d, err := New(Options{Messenger: m, WindowSize: 10, Interval: time.Millisecond, Policy: fastPolicy(3)})
	if err != nil {
		t.Fatal(err)
	}

	result, err := d.SendBatch(context.Background(), makeMessages(3))
	if err != nil {
		t.Fatalf("SendBatch() error = %v", err)
	}
	if len(result.Success) != 3 {
		t.Errorf("success = %d, want 3 (retry should recover the transient)", len(result.Success))
	}
	if d.Stats().Retried != 1 {
		t.Errorf("Retried = %d, want 1", d.Stats().Retried)
	}
}

func TestScheduler_ChunksAndSkipsOptedOut(t *testing.T) {
	m := messengermem.New()
	d, err := New(Options{Messenger: m, WindowSize: 50, Interval: time.Millisecond, Policy: fastPolicy(2)})
	if err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(d, 2, 0, nil)

	recipients := []Recipient{
		{HouseholdID: "h1", PhoneNumber: "+15550000001", OptedIn: true},
		{HouseholdID: "h2", PhoneNumber: "+15550000002", OptedIn: false},
		{HouseholdID: "h3", PhoneNumber: "+15550000003", OptedIn: true},
		{HouseholdID: "h4", PhoneNumber: "+15550000004", OptedIn: true},
	}

	result, err := s.SendAnnouncement(context.Background(), recipients, "weekly planning time")
	if err != nil {
		t.Fatalf("SendAnnouncement() error = %v", err)
	}
	if len(result.Success) != 3 {
		t.Errorf("success = %d, want 3 (opted-out skipped)", len(result.Success))
	}
	if got := m.SentTo("+15550000002"); len(got) != 0 {
		t.Errorf("opted-out recipient received %d messages", len(got))
	}
}
