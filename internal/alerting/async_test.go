package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// blockingNotifier holds every send until released.
type blockingNotifier struct {
	entered chan Notification
	release chan struct{}
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{
		entered: make(chan Notification, 4),
		release: make(chan struct{}),
	}
}

func (b *blockingNotifier) Notify(ctx context.Context, note Notification) error {
	b.entered <- note
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAsyncNotifyDoesNotBlockCaller(t *testing.T) {
	inner := newBlockingNotifier()
	async := NewAsyncNotifier(inner, time.Minute, time.Minute, zerolog.Nop())

	start := time.Now()
	if err := async.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Notify blocked for %s with a stuck sink", elapsed)
	}

	select {
	case note := <-inner.entered:
		if !note.Ratio.Equal(decimal.RequireFromString("0.9")) {
			t.Fatalf("delivered ratio = %s, want 0.9", note.Ratio)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inner notifier never received the notification")
	}

	close(inner.release)
	async.Wait()
}

func TestAsyncObserveKeepsDispatcherFast(t *testing.T) {
	inner := newBlockingNotifier()
	async := NewAsyncNotifier(inner, time.Minute, time.Minute, zerolog.Nop())
	d := newDispatcher(async)

	start := time.Now()
	if !d.Observe(context.Background(), sampleWithRatio("0.9")) {
		t.Fatal("threshold crossing should attempt a notification")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Observe blocked for %s while the sink was stuck", elapsed)
	}
	if d.State() != StateAlerting {
		t.Fatalf("state = %s, want alerting", d.State())
	}

	close(inner.release)
	async.Wait()
}

func TestAsyncSendSurvivesCallerCancellation(t *testing.T) {
	inner := newBlockingNotifier()
	async := NewAsyncNotifier(inner, time.Minute, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := async.Notify(ctx, testNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	<-inner.entered
	cancel()

	// the in-flight send keeps its own deadline after the caller is gone
	select {
	case <-inner.release:
		t.Fatal("release channel closed unexpectedly")
	case <-time.After(50 * time.Millisecond):
	}
	close(inner.release)
	async.Wait()
}

func TestAsyncWaitBoundedByGrace(t *testing.T) {
	inner := newBlockingNotifier()
	async := NewAsyncNotifier(inner, time.Minute, 50*time.Millisecond, zerolog.Nop())

	if err := async.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	<-inner.entered

	start := time.Now()
	async.Wait()
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Fatalf("Wait returned after %s, before the grace elapsed", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Wait blocked for %s past the grace period", elapsed)
	}
	close(inner.release)
}
