package player

import "testing"

func TestRingWriteRead(t *testing.T) {
	r := NewRing(1.0, 100, 1) // 100 samples

	in := []int16{1, 2, 3, 4, 5}
	if n := r.Write(in); n != 5 {
		t.Fatalf("wrote %d, want 5", n)
	}
	if r.Buffered() != 5 {
		t.Errorf("buffered %d, want 5", r.Buffered())
	}

	out := make([]int16, 3)
	if n := r.Read(out); n != 3 {
		t.Fatalf("read %d, want 3", n)
	}
	if out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Errorf("got %v", out)
	}
	if r.Buffered() != 2 {
		t.Errorf("buffered %d, want 2", r.Buffered())
	}
}

func TestRingRejectsOverflow(t *testing.T) {
	r := NewRing(1.0, 4, 1) // 4 samples

	n := r.Write([]int16{1, 2, 3, 4, 5, 6})
	if n != 4 {
		t.Fatalf("wrote %d, want 4 (capacity)", n)
	}
	// Unplayed audio must not be overwritten.
	if n := r.Write([]int16{9}); n != 0 {
		t.Errorf("full ring accepted %d samples", n)
	}
	out := make([]int16, 4)
	r.Read(out)
	if out[0] != 1 || out[3] != 4 {
		t.Errorf("got %v, want first four writes intact", out)
	}
}

func TestRingShortRead(t *testing.T) {
	r := NewRing(1.0, 10, 1)
	r.Write([]int16{7, 8})
	out := make([]int16, 5)
	if n := r.Read(out); n != 2 {
		t.Errorf("read %d, want 2", n)
	}
}

func TestRingCursorsAreMonotonic(t *testing.T) {
	r := NewRing(1.0, 8, 1)
	buf := make([]int16, 8)

	for round := 0; round < 5; round++ {
		r.Write(buf)
		r.Read(buf)
	}
	if r.WriteCursor() != 40 || r.ReadCursor() != 40 {
		t.Errorf("cursors %d/%d, want 40/40", r.WriteCursor(), r.ReadCursor())
	}

	r.Write(buf[:4])
	r.Discard()
	if r.ReadCursor() != r.WriteCursor() {
		t.Error("discard must advance read to write")
	}
	if r.ReadCursor() != 44 {
		t.Errorf("cursor went backwards: %d", r.ReadCursor())
	}
	if r.Buffered() != 0 {
		t.Errorf("buffered %d after discard, want 0", r.Buffered())
	}
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing(1.0, 4, 1)
	out := make([]int16, 2)

	r.Write([]int16{1, 2, 3})
	r.Read(out) // frees two slots
	r.Write([]int16{4, 5, 6})

	got := make([]int16, 4)
	if n := r.Read(got); n != 4 {
		t.Fatalf("read %d, want 4", n)
	}
	want := []int16{3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRingTimeWindowCapacity(t *testing.T) {
	r := NewRing(2.0, 44100, 2)
	if r.Capacity() != 44100*2*2 {
		t.Errorf("capacity %d, want %d", r.Capacity(), 44100*2*2)
	}
}
