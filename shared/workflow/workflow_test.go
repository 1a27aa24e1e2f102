package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusPending, true},
		{StatusPending, StatusResolved, true},
		{" Pending ", StatusAbandoned, true},
		{StatusResolved, StatusPending, false},
		{StatusAbandoned, StatusResolved, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestEventFor(t *testing.T) {
	if ev := EventFor(StatusPending, StatusAbandoned); ev != EventAbandoned {
		t.Fatalf("unexpected event %q", ev)
	}
	if ev := EventFor(StatusResolved, StatusPending); ev != "" {
		t.Fatalf("expected no event from a terminal status, got %q", ev)
	}
}

func TestAttemptOutcomes(t *testing.T) {
	if s := BeforeAttempt(9, 10); s != StatusPending {
		t.Fatalf("expected pending below ceiling, got %s", s)
	}
	if s := BeforeAttempt(10, 10); s != StatusAbandoned {
		t.Fatalf("expected abandoned at ceiling, got %s", s)
	}
	if s := AfterAttempt(true); s != StatusResolved {
		t.Fatalf("success must resolve, got %s", s)
	}
	if s := AfterAttempt(false); s != StatusPending {
		t.Fatalf("failure stays pending, got %s", s)
	}
	if !IsTerminal(StatusAbandoned) || IsTerminal(StatusPending) {
		t.Fatalf("terminal classification wrong")
	}
}
