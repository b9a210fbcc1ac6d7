package state

import (
	"sync"
	"testing"
	"time"

	"github.com/embedchat/widget/internal/neterr"
)

func TestApplyMergesPartialPatch(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})

	m.Apply(Patch{IsOpen: Bool(true)})
	m.Apply(Patch{IsLoading: Bool(true)})

	got := m.Get()
	if !got.IsOpen {
		t.Error("IsOpen should survive an unrelated patch")
	}
	if !got.IsLoading {
		t.Error("IsLoading should be set")
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})

	m.Apply(Patch{AppendMessages: []Message{{ID: "1", Role: RoleUser, Content: "hi"}}})
	m.Apply(Patch{AppendMessages: []Message{{ID: "2", Role: RoleAssistant, Content: "hello"}}})

	got := m.Get()
	if len(got.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].ID != "1" || got.Messages[1].ID != "2" {
		t.Errorf("messages out of order: %+v", got.Messages)
	}
}

func TestClearMessages(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})
	m.Apply(Patch{AppendMessages: []Message{{ID: "1"}, {ID: "2"}}})

	m.Apply(Patch{ClearMessages: true, AppendMessages: []Message{{ID: "3"}}})

	got := m.Get()
	if len(got.Messages) != 1 || got.Messages[0].ID != "3" {
		t.Errorf("clear then append should leave only the new message, got %+v", got.Messages)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})
	m.Apply(Patch{
		AppendMessages: []Message{{ID: "1", Role: RoleUser, Content: "hi", Timestamp: time.Now()}},
		Streaming:      Str("partial"),
	})

	snap := m.Get()
	snap.Messages[0].Content = "mutated"
	*snap.Streaming = "mutated"

	got := m.Get()
	if got.Messages[0].Content != "hi" {
		t.Error("mutating a snapshot leaked into manager state")
	}
	if *got.Streaming != "partial" {
		t.Error("mutating a snapshot streaming buffer leaked into manager state")
	}
}

func TestErrorSetAndClear(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})

	m.Apply(Patch{Err: neterr.ClassifyStatus(500)})
	if got := m.Get(); got.Err == nil || got.Err.Status != 500 {
		t.Fatalf("Err = %v, want status 500", got.Err)
	}

	m.Apply(Patch{ClearErr: true})
	if got := m.Get(); got.Err != nil {
		t.Errorf("Err = %v after clear, want nil", got.Err)
	}
}

func TestStreamingClearAndAppendIsAtomic(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})
	m.Apply(Patch{Streaming: Str("Hello wor")})

	var observed []State
	m.Subscribe(func(s State) { observed = append(observed, s) })

	// Finalization clears the buffer and appends the message in one patch,
	// so no subscriber ever sees both or neither.
	m.Apply(Patch{
		ClearStreaming: true,
		AppendMessages: []Message{{ID: "m1", Role: RoleAssistant, Content: "Hello world"}},
	})

	if len(observed) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(observed))
	}
	if observed[0].Streaming != nil {
		t.Error("streaming buffer should be nil in the finalization snapshot")
	}
	if len(observed[0].Messages) != 1 || observed[0].Messages[0].ID != "m1" {
		t.Errorf("finalized message missing from snapshot: %+v", observed[0].Messages)
	}
}

func TestSubscribeOrderAndUnsubscribe(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})

	var order []string
	unsubA := m.Subscribe(func(State) { order = append(order, "a") })
	m.Subscribe(func(State) { order = append(order, "b") })

	m.Apply(Patch{IsOpen: Bool(true)})
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("notification order = %v, want [a b]", order)
	}

	unsubA()
	order = nil
	m.Apply(Patch{IsOpen: Bool(false)})
	if len(order) != 1 || order[0] != "b" {
		t.Errorf("after unsubscribe order = %v, want [b]", order)
	}
}

func TestListenerMayReadState(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})

	done := make(chan struct{})
	m.Subscribe(func(State) {
		// Re-entrant read must not deadlock.
		_ = m.Get()
		close(done)
	})

	m.Apply(Patch{IsOpen: Bool(true)})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener deadlocked reading state")
	}
}

func TestConcurrentDisjointPatches(t *testing.T) {
	t.Parallel()

	m := NewManager(State{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Apply(Patch{IsLoading: Bool(true)})
		}()
		go func() {
			defer wg.Done()
			m.Apply(Patch{Streaming: Str("chunk")})
		}()
	}
	wg.Wait()

	got := m.Get()
	if !got.IsLoading || got.Streaming == nil {
		t.Errorf("disjoint patches lost: %+v", got)
	}
}
