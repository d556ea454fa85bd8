package worker

import (
	"context"
	"testing"
	"time"
)

func TestSearchPool_RunsSubmittedJob(t *testing.T) {
	p := newSearchPool(2, 5*time.Millisecond, nil, nil)
	defer p.Close()

	result, err, timedOut := p.Submit(context.Background(), 100*time.Millisecond, func() (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if timedOut {
		t.Fatal("did not expect a budget timeout")
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %v", result)
	}
}

func TestSearchPool_ReportsBudgetExceededWithoutError(t *testing.T) {
	p := newSearchPool(2, 2*time.Millisecond, nil, nil)
	defer p.Close()

	_, err, timedOut := p.Submit(context.Background(), 5*time.Millisecond, func() (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "too slow", nil
	})
	if err != nil {
		t.Fatalf("expected no error on budget overrun, got %v", err)
	}
	if !timedOut {
		t.Fatal("expected timedOut=true when job exceeds budget")
	}
}

func TestSearchPool_RejectsWhenFull(t *testing.T) {
	rejections := 0
	p := newSearchPool(1, 5*time.Millisecond, nil, func() { rejections++ })
	defer p.Close()

	block := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Submit(context.Background(), time.Second, func() (any, error) {
			<-block
			return nil, nil
		})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond) // let the first job claim the only token

	_, err, _ := p.Submit(context.Background(), time.Second, func() (any, error) {
		return "never", nil
	})
	if err == nil {
		t.Fatal("expected rejection when pool is full")
	}
	if rejections != 1 {
		t.Fatalf("expected exactly one rejection, got %d", rejections)
	}
	close(block)
	<-done
}
