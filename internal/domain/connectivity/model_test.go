package connectivity

import "testing"

// TestTransition_Direction verifies the direction helpers.
func TestTransition_Direction(t *testing.T) {
	on := State{IsOnline: true}
	off := State{IsOnline: false}

	if !(Transition{From: off, To: on}).CameOnline() {
		t.Error("expected offline->online to be CameOnline")
	}
	if (Transition{From: on, To: on}).CameOnline() {
		t.Error("online->online is not a transition online")
	}
	if !(Transition{From: on, To: off}).WentOffline() {
		t.Error("expected online->offline to be WentOffline")
	}
	if on.String() != "online" || off.String() != "offline" {
		t.Errorf("String() = %q/%q", on.String(), off.String())
	}
}
