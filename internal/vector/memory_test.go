package vector

import (
	"testing"
)

func TestMemoryIndex_Replace(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	records := []Record{
		{EntityID: "a", Vector: []float32{1, 0, 0}, SourceText: "alpha"},
		{EntityID: "b", Vector: []float32{0.9, 0.1, 0}, SourceText: "beta"},
		{EntityID: "c", Vector: []float32{0, 1, 0}, SourceText: "gamma"},
	}
	if err := idx.Replace(records); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}
	r, ok := idx.Get("b")
	if !ok || r.SourceText != "beta" {
		t.Errorf("Get(b)=%v, %v", r, ok)
	}
	records[0].Vector[0] = 42
	if got, _ := idx.Get("a"); got.Vector[0] != 1 {
		t.Error("Replace should copy vectors")
	}
	all := idx.Records()
	if len(all) != 3 || all[0].EntityID != "a" || all[2].EntityID != "c" {
		t.Errorf("Records order: %v", all)
	}

	if err := idx.Replace([]Record{{EntityID: "z", Vector: []float32{0, 0, 1}}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.Get("a"); ok {
		t.Error("Replace should drop previous records")
	}
}

func TestMemoryIndex_RejectsBadRecords(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	if err := idx.Replace([]Record{{EntityID: "x", Vector: []float32{1}}}); err == nil {
		t.Error("expected dimension error")
	}
	if err := idx.Replace([]Record{{Vector: []float32{1, 0}}}); err == nil {
		t.Error("expected missing id error")
	}
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestMemoryIndex_Reset(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	_ = idx.Replace([]Record{{EntityID: "x", Vector: []float32{1, 0}}})
	idx.Reset()
	if idx.Size() != 0 {
		t.Errorf("expected empty index, got %d", idx.Size())
	}
}
