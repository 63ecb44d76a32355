package segment

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateOpen, "OPEN"},
		{StateFinalCandidate, "FINAL_CANDIDATE"},
		{StateForcedBuffered, "FORCED_BUFFERED"},
		{StateRecovering, "RECOVERING"},
		{StateCommitted, "COMMITTED"},
		{StateDropped, "DROPPED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	terminal := []State{StateCommitted, StateDropped}
	nonTerminal := []State{StateOpen, StateFinalCandidate, StateForcedBuffered, StateRecovering}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}
