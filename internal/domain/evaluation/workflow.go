package evaluation

import (
	"fmt"
	"sync"

	"github.com/anggasct/fluo"
)

// Workflow events. Every mutating operation routes its status change through
// NextStatus rather than flipping the field inline.
const (
	EventSave     = "save"
	EventSubmit   = "submit"
	EventResubmit = "resubmit"
)

var (
	machineOnce sync.Once
	machineDef  fluo.MachineDefinition
)

func statusMachine() fluo.MachineDefinition {
	machineOnce.Do(func() {
		b := fluo.NewMachine()
		b.State(StatusPending).Initial().
			To(StatusInProgress).On(EventSave).
			To(StatusSubmitted).On(EventSubmit)
		b.State(StatusInProgress).
			ToSelf().On(EventSave).
			To(StatusSubmitted).On(EventSubmit)
		// Editing or resubmitting never moves a submitted evaluation back.
		b.State(StatusSubmitted).
			ToSelf().On(EventSave).
			ToSelf().On(EventResubmit)
		machineDef = b.Build()
	})
	return machineDef
}

// NextStatus runs one workflow event from the given status and returns the
// resulting status. Unknown statuses and disallowed events are errors.
func NextStatus(current, event string) (string, error) {
	if current == "" {
		current = StatusPending
	}
	m := statusMachine().CreateInstance()
	if err := m.Start(); err != nil {
		return "", err
	}
	if current != StatusPending {
		if err := m.SetState(current); err != nil {
			return "", fmt.Errorf("unknown evaluation status %q", current)
		}
	}
	result := m.SendEvent(event, nil)
	if !result.Success() {
		return "", fmt.Errorf("cannot %s an evaluation in status %s", event, current)
	}
	return m.CurrentState(), nil
}
