package ring

import "testing"

func TestSnapshotReturnsMostRecentWindow(t *testing.T) {
	b := New(8)
	b.Write([]float64{1, 2, 3, 4})
	dst := make([]float64, 3)
	pos := b.Snapshot(dst)
	if pos != 4 {
		t.Fatalf("pos = %d, want 4", pos)
	}
	if dst[0] != 2 || dst[1] != 3 || dst[2] != 4 {
		t.Fatalf("snapshot = %v", dst)
	}
}

func TestSnapshotZeroFillsShortReads(t *testing.T) {
	b := New(8)
	b.Write([]float64{5})
	dst := make([]float64, 4)
	b.Snapshot(dst)
	if dst[0] != 0 || dst[1] != 0 || dst[2] != 0 || dst[3] != 5 {
		t.Fatalf("snapshot = %v", dst)
	}
}

func TestSnapshotPositionDetectsStaleData(t *testing.T) {
	b := New(16)
	b.Write([]float64{1, 2})
	dst := make([]float64, 2)
	p1 := b.Snapshot(dst)
	p2 := b.Snapshot(dst)
	if p1 != p2 {
		t.Fatalf("no writes between snapshots but position moved: %d -> %d", p1, p2)
	}
	b.Write([]float64{3})
	if p3 := b.Snapshot(dst); p3 == p2 {
		t.Fatal("write not visible to consumer")
	}
}

func TestWriteWrapsAround(t *testing.T) {
	b := New(4)
	for i := 0; i < 10; i++ {
		b.Write([]float64{float64(i)})
	}
	dst := make([]float64, 4)
	b.Snapshot(dst)
	if dst[0] != 6 || dst[3] != 9 {
		t.Fatalf("wrapped snapshot = %v", dst)
	}
}

func TestWriteStereoF32MixesToMono(t *testing.T) {
	b := New(8)
	b.WriteStereoF32([]float32{1, 0, 0.5, 0.5, -1, 1})
	dst := make([]float64, 3)
	b.Snapshot(dst)
	if dst[0] != 0.5 || dst[1] != 0.5 || dst[2] != 0 {
		t.Fatalf("mono mix = %v", dst)
	}
}
