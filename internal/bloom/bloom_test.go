package bloom

import "testing"

func TestInsertContains(t *testing.T) {
	f := New(100, 0.01)
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, k := range keys {
		f.Insert(k)
	}
	for _, k := range keys {
		if !f.Contains(k) {
			t.Fatalf("Contains(%q) = false, want true", k)
		}
	}
}

func TestContainsAbsentUsuallyFalse(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 500; i++ {
		f.Insert([]byte{byte(i), byte(i >> 8)})
	}
	falsePositives := 0
	for i := 5000; i < 6000; i++ {
		if f.Contains([]byte{byte(i), byte(i >> 8), 0xFF}) {
			falsePositives++
		}
	}
	if falsePositives > 50 {
		t.Fatalf("false positive rate too high: %d/1000", falsePositives)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	f := New(50, 0.01)
	f.Insert([]byte("hello"))
	f.Insert([]byte("world"))

	data := f.Serialize()
	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !restored.Contains([]byte("hello")) || !restored.Contains([]byte("world")) {
		t.Fatalf("restored filter lost membership")
	}
	if restored.k != f.k || restored.m != f.m {
		t.Fatalf("restored filter params mismatch: k=%d m=%d, want k=%d m=%d", restored.k, restored.m, f.k, f.m)
	}
}

func TestDeserializeTruncated(t *testing.T) {
	if _, err := Deserialize([]byte{1, 2, 3}); err == nil {
		t.Fatalf("Deserialize(truncated) = nil error, want error")
	}
}
