package cache

import "testing"

func TestLFCPutGetRoundTrip(t *testing.T) {
	lfc := NewLFCCache(1 << 20)
	key := RangeKey{ObjectKey: "timelines/1/wal/seg0", Offset: 0, Length: 4}
	lfc.Put(key, []byte("data"))

	got, ok := lfc.Get(key)
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(got) != "data" {
		t.Fatalf("got %q, want %q", got, "data")
	}
}

func TestLFCMissOnUnknownKey(t *testing.T) {
	lfc := NewLFCCache(1 << 20)
	if _, ok := lfc.Get(RangeKey{ObjectKey: "nope"}); ok {
		t.Fatalf("expected miss")
	}
}

func TestLFCEvictsUnderPressure(t *testing.T) {
	lfc := NewLFCCache(1)
	lfc.Put(RangeKey{ObjectKey: "a"}, []byte("some bytes that compress to more than 1 byte"))
	if lfc.GetSize() > lfc.GetMaxSize() {
		t.Fatalf("cache exceeded max size: %d > %d", lfc.GetSize(), lfc.GetMaxSize())
	}
}

func TestPageCacheLRUEviction(t *testing.T) {
	pc := NewPageCache(2)
	pc.Put(RangeKey{ObjectKey: "a"}, []byte("1"))
	pc.Put(RangeKey{ObjectKey: "b"}, []byte("2"))
	pc.Put(RangeKey{ObjectKey: "c"}, []byte("3"))

	if _, ok := pc.Get(RangeKey{ObjectKey: "a"}); ok {
		t.Fatalf("expected 'a' to be evicted")
	}
	if _, ok := pc.Get(RangeKey{ObjectKey: "c"}); !ok {
		t.Fatalf("expected 'c' to still be cached")
	}
}

func TestPageCacheClear(t *testing.T) {
	pc := NewPageCache(10)
	pc.Put(RangeKey{ObjectKey: "a"}, []byte("1"))
	pc.Clear()
	if _, ok := pc.Get(RangeKey{ObjectKey: "a"}); ok {
		t.Fatalf("expected cache to be empty after Clear")
	}
}
