package resource

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type testObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func TestUnifiedTable_Basic(t *testing.T) {
	table := NewTable()

	h, err := table.Insert(&Entry{Kind: KindFile, Path: "data"})
	if err != nil || h == 0 {
		t.Fatalf("Insert = %d, %v", h, err)
	}

	e, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if e.Path != "data" {
		t.Fatalf("Expected path 'data', got %q", e.Path)
	}

	if _, ok := table.GetKind(h, KindFile); !ok {
		t.Fatal("GetKind with correct kind failed")
	}
	if _, ok := table.GetKind(h, KindSocket); ok {
		t.Fatal("GetKind with wrong kind should fail")
	}

	if _, ok := table.Remove(h); !ok {
		t.Fatal("Remove failed")
	}
	if _, ok := table.Remove(h); ok {
		t.Fatal("second Remove should miss")
	}
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
	if _, ok := table.Get(0); ok {
		t.Fatal("handle 0 is never valid")
	}
}

func TestUnifiedTable_HandlesNeverReused(t *testing.T) {
	table := NewTable()
	seen := make(map[Handle]bool)

	for i := 0; i < 100; i++ {
		h, err := table.Insert(&Entry{Kind: KindTimer})
		if err != nil {
			t.Fatal(err)
		}
		if seen[h] {
			t.Fatalf("handle %d issued twice", h)
		}
		seen[h] = true
		if i%2 == 0 {
			table.Remove(h)
		}
	}
}

func TestUnifiedTable_ReserveAttach(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h, err := table.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := table.Get(h); ok {
		t.Fatal("reserved handle should not resolve before Attach")
	}
	if len(obs.events) != 0 {
		t.Fatal("Reserve should not notify")
	}

	if err := table.Attach(h, &Entry{Kind: KindSocket, Direction: Outbound}); err != nil {
		t.Fatal(err)
	}
	if err := table.Attach(h, &Entry{Kind: KindSocket}); !errors.Is(err, ErrNotReserved) {
		t.Fatalf("double Attach = %v, want ErrNotReserved", err)
	}
	if len(obs.events) != 1 || obs.events[0].Type != EventCreated || obs.events[0].Kind != KindSocket {
		t.Fatalf("unexpected events %+v", obs.events)
	}

	other, _ := table.Reserve()
	table.Discard(other)
	if err := table.Attach(other, &Entry{Kind: KindFile}); !errors.Is(err, ErrNotReserved) {
		t.Fatalf("Attach after Discard = %v", err)
	}
}

func TestUnifiedTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h, _ := table.Insert(&Entry{Kind: KindTimer})
	table.Remove(h)
	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[1].Type != EventDropped || obs.events[1].Handle != h {
		t.Fatal("Expected EventDropped for the handle")
	}

	table.Unsubscribe(obs)
	table.Insert(&Entry{Kind: KindTimer})
	if len(obs.events) != 2 {
		t.Fatal("Should not receive events after Unsubscribe")
	}
}

func TestUnifiedTable_Handles(t *testing.T) {
	table := NewTable()
	a, _ := table.Insert(&Entry{Kind: KindFile})
	table.Insert(&Entry{Kind: KindTimer})
	b, _ := table.Insert(&Entry{Kind: KindFile})

	got := table.Handles(KindFile)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("Handles = %v, want [%d %d]", got, a, b)
	}
}

type dropCounter struct {
	count int
}

func (d *dropCounter) Drop() {
	d.count++
}

func TestUnifiedTable_Close(t *testing.T) {
	table := NewTable()
	d := &dropCounter{}
	closedEarly := &dropCounter{}

	table.Insert(&Entry{Kind: KindFile, Value: d})
	h, _ := table.Insert(&Entry{Kind: KindFile, Value: closedEarly})
	e, _ := table.Get(h)
	e.Close(nil)

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.count != 1 {
		t.Fatalf("Expected Drop() once, got %d", d.count)
	}
	if closedEarly.count != 0 {
		t.Fatal("an entry closed before teardown must not be dropped again")
	}
	if _, err := table.Insert(&Entry{Kind: KindFile}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Insert after Close = %v", err)
	}
	if table.Len() != 0 {
		t.Fatal("Expected empty table after Close")
	}
}

func TestEntry_CloseSingleWinner(t *testing.T) {
	e := &Entry{Kind: KindSocket}
	var ran, won atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.Close(func() error {
				ran.Add(1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
			if ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	if ran.Load() != 1 || won.Load() != 1 {
		t.Fatalf("teardown ran %d times, %d winners", ran.Load(), won.Load())
	}
	if !e.Closed() {
		t.Fatal("entry should report closed")
	}
	if ok, _ := e.Close(nil); ok {
		t.Fatal("second Close should return false")
	}
}

func TestKindString(t *testing.T) {
	if KindConnListener.String() != "conn-listener" || Inbound.String() != "inbound" {
		t.Fatal("unexpected names")
	}
}
