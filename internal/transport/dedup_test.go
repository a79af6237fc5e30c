package transport

import (
	"testing"
	"time"
)

func TestDeduperSuppressesWithinTTL(t *testing.T) {
	d := NewDeduper(time.Minute)

	if d.Seen("ev-1") {
		t.Error("first delivery must pass")
	}
	if !d.Seen("ev-1") {
		t.Error("second delivery within TTL must be suppressed")
	}
	if d.Seen("ev-2") {
		t.Error("distinct key must pass")
	}
}

func TestDeduperExpires(t *testing.T) {
	d := NewDeduper(20 * time.Millisecond)

	if d.Seen("ev-1") {
		t.Error("first delivery must pass")
	}
	time.Sleep(40 * time.Millisecond)
	if d.Seen("ev-1") {
		t.Error("delivery after TTL must pass again")
	}
}

func TestDeduperEmptyKey(t *testing.T) {
	d := NewDeduper(time.Minute)
	if d.Seen("") || d.Seen("") {
		t.Error("empty keys are never deduplicated")
	}
}
