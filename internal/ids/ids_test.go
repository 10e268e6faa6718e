package ids

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableAndValid(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newAt(at)
	b := newAt(at)
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected valid ids: %s %s", a, b)
	}
	if a >= b {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
	id := ulid.MustParseStrict(a)
	if got := ulid.Time(id.Time()); !got.Equal(at) {
		t.Fatalf("unexpected embedded time %v", got)
	}
}

func TestValid(t *testing.T) {
	if !Valid(New()) {
		t.Fatal("fresh id reported invalid")
	}
	for _, s := range []string{"", "not-an-id", "ana", strings.Repeat("Z", 26), New() + "0"} {
		if Valid(s) {
			t.Fatalf("Valid(%q) = true", s)
		}
	}
}
