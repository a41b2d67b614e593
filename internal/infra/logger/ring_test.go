package logger

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestRingKeepsOrderBeforeWrap(t *testing.T) {
	r := NewRing(3)
	fmt.Fprintln(r, "a")
	fmt.Fprintln(r, "b")

	if got := r.Entries(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Entries = %v", got)
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		fmt.Fprintln(r, s)
	}

	if got := r.Entries(); !reflect.DeepEqual(got, []string{"c", "d", "e"}) {
		t.Errorf("Entries = %v, want [c d e]", got)
	}
}

func TestRingZeroSize(t *testing.T) {
	r := NewRing(0)
	n, err := r.Write([]byte("dropped\n"))
	if err != nil || n != 8 {
		t.Errorf("Write = (%d, %v)", n, err)
	}
	if got := r.Entries(); len(got) != 0 {
		t.Errorf("Entries = %v, want empty", got)
	}
}

func TestRingEntriesIsCopy(t *testing.T) {
	r := NewRing(2)
	fmt.Fprintln(r, "a")
	got := r.Entries()
	got[0] = "mutated"
	if r.Entries()[0] != "a" {
		t.Error("Entries must not expose the internal buffer")
	}
}

func TestRingConcurrentWrites(t *testing.T) {
	r := NewRing(50)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				fmt.Fprintf(r, "%d-%d\n", i, j)
			}
		}(i)
	}
	wg.Wait()
	if got := len(r.Entries()); got != 50 {
		t.Errorf("len(Entries) = %d, want 50", got)
	}
}
