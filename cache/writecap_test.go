package cache

import "testing"

func TestWriteCapDisabledAllowsEverything(t *testing.T) {
	w := newWriteCap(0)
	defer w.Stop()
	if !w.Allow(1, 1<<30) {
		t.Error("a disabled cap (dailyBytes<=0) should allow any write size")
	}
}

func TestWriteCapDebitsAndDenies(t *testing.T) {
	w := newWriteCap(100)
	defer w.Stop()

	if !w.Allow(1, 60) {
		t.Fatal("expected the first 60-byte write to be allowed")
	}
	if !w.Allow(1, 30) {
		t.Fatal("expected the second 30-byte write (90 total) to be allowed")
	}
	if w.Allow(1, 20) {
		t.Error("expected a write taking the user to 110/100 bytes to be denied")
	}
}

func TestWriteCapPerUserIsolation(t *testing.T) {
	w := newWriteCap(100)
	defer w.Stop()

	if !w.Allow(1, 100) {
		t.Fatal("expected user 1 to exhaust their own budget")
	}
	if !w.Allow(2, 100) {
		t.Error("user 2's budget should be independent of user 1's")
	}
}
