package notify

import "testing"

func TestPublishOrderAndFilter(t *testing.T) {
	b := New[int]()
	var got []int

	b.Register(func(e int) bool { return e%2 == 0 }, func(e int) {
		got = append(got, e)
	})
	b.Register(nil, func(e int) {
		got = append(got, e*10)
	})

	b.Publish(1)
	b.Publish(2)

	want := []int{10, 2, 20}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New[string]()
	count := 0
	h := b.Register(nil, func(s string) { count++ })
	b.Publish("a")
	b.Unregister(h)
	b.Publish("b")
	if count != 1 {
		t.Errorf("got %d deliveries, want 1", count)
	}
}

func TestReentrantUnregisterDuringPublish(t *testing.T) {
	b := New[int]()
	var secondHandle Handle
	var secondCalled bool

	b.Register(nil, func(e int) {
		b.Unregister(secondHandle)
	})
	secondHandle = b.Register(nil, func(e int) {
		secondCalled = true
	})

	b.Publish(1)
	if secondCalled {
		t.Errorf("expected second observer to be skipped after being unregistered mid-publish")
	}
}

func TestLen(t *testing.T) {
	b := New[int]()
	if b.Len() != 0 {
		t.Fatalf("expected 0")
	}
	h := b.Register(nil, func(int) {})
	if b.Len() != 1 {
		t.Fatalf("expected 1")
	}
	b.Unregister(h)
	if b.Len() != 0 {
		t.Fatalf("expected 0 after unregister")
	}
}
