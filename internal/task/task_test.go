package task

import "testing"

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusRefunded, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []Status{StatusPending, StatusCreated, StatusAuthorized, StatusRunning}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	orig := &Task{
		TaskID:               "t1",
		InputParameters:      map[string]any{"a": 1},
		RequiredCapabilities: []string{"cap-1"},
		EscrowTxHash:         []byte{0x01, 0x02},
		Authorization:        &Authorization{Signature: []byte{0xaa}, Nonce: 7},
	}

	clone := orig.Clone()

	clone.InputParameters["a"] = 2
	clone.RequiredCapabilities[0] = "mutated"
	clone.EscrowTxHash[0] = 0xff
	clone.Authorization.Signature[0] = 0xee
	clone.Authorization.Nonce = 99

	if orig.InputParameters["a"] != 1 {
		t.Error("mutating the clone's InputParameters leaked into the original")
	}
	if orig.RequiredCapabilities[0] != "cap-1" {
		t.Error("mutating the clone's RequiredCapabilities leaked into the original")
	}
	if orig.EscrowTxHash[0] != 0x01 {
		t.Error("mutating the clone's EscrowTxHash leaked into the original")
	}
	if orig.Authorization.Nonce != 7 {
		t.Error("mutating the clone's Authorization leaked into the original")
	}
}

func TestCloneOfNilIsNil(t *testing.T) {
	var t1 *Task
	if t1.Clone() != nil {
		t.Fatal("expected Clone of a nil *Task to return nil")
	}
}
