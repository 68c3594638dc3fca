package presence

import (
	"sync"
	"testing"
)

// stubConn is a no-op Conn with identity semantics.
type stubConn struct{ id string }

func (s *stubConn) Send(data []byte) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	d := NewLocal()
	c := &stubConn{id: "c1"}

	d.Register("alice", c)

	got, ok := d.Lookup("alice")
	if !ok {
		t.Fatal("Lookup(alice) not found after Register")
	}
	if got != c {
		t.Errorf("Lookup returned %v, want %v", got, c)
	}

	if _, ok := d.Lookup("bob"); ok {
		t.Error("Lookup(bob) found an entry that was never registered")
	}
}

func TestRegister_LastWriterWins(t *testing.T) {
	d := NewLocal()
	first := &stubConn{id: "first"}
	second := &stubConn{id: "second"}

	d.Register("alice", first)
	d.Register("alice", second)

	got, ok := d.Lookup("alice")
	if !ok {
		t.Fatal("Lookup(alice) not found")
	}
	if got != second {
		t.Errorf("Lookup returned the superseded connection")
	}
	if d.Count() != 1 {
		t.Errorf("Count = %d, want 1: at most one connection per handle", d.Count())
	}
}

func TestUnregister_OnlyMatchingConn(t *testing.T) {
	d := NewLocal()
	old := &stubConn{id: "old"}
	fresh := &stubConn{id: "fresh"}

	d.Register("alice", old)
	d.Register("alice", fresh)

	// The old session's disconnect arrives late. It must not evict the
	// newer registration.
	d.Unregister("alice", old)

	got, ok := d.Lookup("alice")
	if !ok {
		t.Fatal("stale unregister evicted the fresh connection")
	}
	if got != fresh {
		t.Errorf("Lookup returned %v, want fresh connection", got)
	}

	// The current session's disconnect removes the entry.
	d.Unregister("alice", fresh)
	if _, ok := d.Lookup("alice"); ok {
		t.Error("Lookup(alice) still found after matching Unregister")
	}
}

func TestUnregister_AbsentHandle(t *testing.T) {
	d := NewLocal()
	// Must not panic.
	d.Unregister("ghost", &stubConn{})
}

func TestConcurrentAccess(t *testing.T) {
	d := NewLocal()
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &stubConn{}
			d.Register("alice", c)
			d.Lookup("alice")
			d.Unregister("alice", c)
		}()
	}
	wg.Wait()
}
