package board

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestToggleAssignees(t *testing.T) {
	tests := []struct {
		name    string
		current []int64
		user    int64
		want    []int64
	}{
		{name: "add to empty", current: nil, user: 3, want: []int64{3}},
		{name: "append", current: []int64{1, 2}, user: 3, want: []int64{1, 2, 3}},
		{name: "remove keeps order", current: []int64{1, 2, 3}, user: 2, want: []int64{1, 3}},
		{name: "remove last", current: []int64{4}, user: 4, want: []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := append([]int64(nil), tt.current...)
			got := ToggleAssignees(tt.current, tt.user)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ToggleAssignees(%v, %d) = %v, want %v", tt.current, tt.user, got, tt.want)
			}
			if !reflect.DeepEqual(tt.current, orig) {
				t.Fatalf("input modified: %v", tt.current)
			}
			back := ToggleAssignees(got, tt.user)
			if len(orig) == 0 {
				orig = []int64{}
			}
			if !reflect.DeepEqual(back, orig) {
				t.Fatalf("toggle is not an involution: %v -> %v -> %v", orig, got, back)
			}
		})
	}
}

func TestWriteQueueSerializesPerTask(t *testing.T) {
	q := newWriteQueue()
	first := q.enqueue(1)
	second := q.enqueue(1)
	other := q.enqueue(2)

	if err := first.wait(context.Background()); err != nil {
		t.Fatalf("first ticket should not wait: %v", err)
	}
	if err := other.wait(context.Background()); err != nil {
		t.Fatalf("other task should not wait: %v", err)
	}

	waited := make(chan error, 1)
	go func() { waited <- second.wait(context.Background()) }()
	select {
	case <-waited:
		t.Fatalf("second ticket ran before the first released")
	case <-time.After(20 * time.Millisecond):
	}

	first.release()
	if err := <-waited; err != nil {
		t.Fatalf("second wait: %v", err)
	}
	second.release()
	other.release()
	if n := q.inFlight(); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestWriteQueueCancelledWaitKeepsChain(t *testing.T) {
	q := newWriteQueue()
	first := q.enqueue(1)
	second := q.enqueue(1)
	third := q.enqueue(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := second.wait(ctx); err == nil {
		t.Fatalf("expected cancelled wait")
	}

	released := make(chan error, 1)
	go func() { released <- third.wait(context.Background()) }()
	select {
	case <-released:
		t.Fatalf("third ticket must still wait for the first")
	case <-time.After(20 * time.Millisecond):
	}
	first.release()
	if err := <-released; err != nil {
		t.Fatalf("third wait: %v", err)
	}
	third.release()
}
