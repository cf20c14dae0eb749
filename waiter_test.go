package sixlock

import "testing"

func TestEnqueueOrdersByStartTime(t *testing.T) {
	l := &Lock{}
	var a, b, c Waiter
	l.enqueue(&a)
	l.enqueue(&b)
	l.enqueue(&c)

	got := []*Waiter{}
	for w := l.waitHead; w != nil; w = w.next {
		got = append(got, w)
	}
	want := []*Waiter{&a, &b, &c}
	if len(got) != len(want) {
		t.Fatalf("list length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d = %p, want %p", i, got[i], want[i])
		}
	}
	if l.waitTail != &c {
		t.Fatalf("tail = %p, want %p", l.waitTail, &c)
	}
	if !(a.startTime < b.startTime && b.startTime < c.startTime) {
		t.Fatalf("start times not strictly increasing: %d, %d, %d", a.startTime, b.startTime, c.startTime)
	}
}

func TestUnlinkMiddleElement(t *testing.T) {
	l := &Lock{}
	var a, b, c Waiter
	l.enqueue(&a)
	l.enqueue(&b)
	l.enqueue(&c)

	l.unlink(&b)

	if l.waitHead != &a || l.waitHead.next != &c {
		t.Fatal("unlinking the middle element should leave a -> c")
	}
	if c.prev != &a {
		t.Fatal("c.prev should now point to a")
	}
}

func TestUnlinkIsIdempotent(t *testing.T) {
	l := &Lock{}
	var a Waiter
	l.enqueue(&a)
	l.unlink(&a)
	if l.waitHead != nil || l.waitTail != nil {
		t.Fatal("unlinking the sole element should empty the list")
	}
	// Unlinking again must be a safe no-op.
	l.unlink(&a)
}

func TestUnlinkHeadAndTail(t *testing.T) {
	l := &Lock{}
	var a, b Waiter
	l.enqueue(&a)
	l.enqueue(&b)

	l.unlink(&a)
	if l.waitHead != &b || b.prev != nil {
		t.Fatal("unlinking the head should leave b as the sole element")
	}

	l.unlink(&b)
	if l.waitHead != nil || l.waitTail != nil {
		t.Fatal("list should be empty after unlinking the last element")
	}
}
