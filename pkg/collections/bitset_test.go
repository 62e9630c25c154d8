package collections

import "testing"

func TestBitset_Basic(t *testing.T) {
	b := NewBitset(100)

	b.Set(0)
	b.Set(50)
	b.Set(99)

	if !b.Test(0) || !b.Test(50) || !b.Test(99) {
		t.Error("Expected set bits to test true")
	}
	if b.Test(1) {
		t.Error("Expected bit 1 to be clear")
	}
	if b.Count() != 3 {
		t.Errorf("Expected count 3, got %d", b.Count())
	}

	b.Clear(50)
	if b.Test(50) {
		t.Error("Expected bit 50 to be clear after Clear")
	}
	if b.Count() != 2 {
		t.Errorf("Expected count 2 after Clear, got %d", b.Count())
	}
}

func TestBitset_ClearAll(t *testing.T) {
	b := NewBitset(128)
	for i := 0; i < 128; i += 3 {
		b.Set(i)
	}
	b.ClearAll()
	if b.Count() != 0 {
		t.Errorf("Expected empty bitset after ClearAll, count %d", b.Count())
	}
}

func TestBitset_ForEachSet(t *testing.T) {
	b := NewBitset(200)
	want := []int{3, 64, 65, 130, 199}
	for _, i := range want {
		b.Set(i)
	}

	var got []int
	b.ForEachSet(func(i int) { got = append(got, i) })

	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected ascending order %v, got %v", want, got)
		}
	}
}
