package service

import "testing"

func TestStateDecidedAndLive(t *testing.T) {
	cases := []struct {
		st      State
		decided bool
		live    bool
	}{
		{StateStarting, false, true},
		{StateHealthy, true, true},
		{StateUnhealthy, true, true},
		{StateStopped, true, false},
		{StateFailed, true, false},
	}
	for _, c := range cases {
		if got := c.st.Decided(); got != c.decided {
			t.Errorf("%s: Decided=%v want %v", c.st, got, c.decided)
		}
		if got := c.st.Live(); got != c.live {
			t.Errorf("%s: Live=%v want %v", c.st, got, c.live)
		}
	}
	// Zero value has not reached any decision.
	var zero State
	if zero.Decided() {
		t.Errorf("zero state should not be decided")
	}
}
