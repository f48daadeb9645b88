package timeline

import (
	"context"

	"github.com/qmuntal/stateless"
)

// Status triggers.
type statusTrigger string

const (
	// triggerDelivered: the send collaborator accepted the message.
	triggerDelivered statusTrigger = "Delivered"
	// triggerNetworkLost: the attempt failed because connectivity dropped.
	triggerNetworkLost statusTrigger = "NetworkLost"
	// triggerRejected: the remote side refused the message.
	triggerRejected statusTrigger = "Rejected"
	// triggerQueue: the link is known to be down; park the message.
	triggerQueue statusTrigger = "Queue"
	// triggerDispatch: an attempt is starting.
	triggerDispatch statusTrigger = "Dispatch"
)

// statusMachine binds the status transition table to msg.Status. Success is
// terminal: revoke and delete are flags, not statuses.
func statusMachine(msg *Message) *stateless.StateMachine {
	fsm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) { return msg.Status, nil },
		func(_ context.Context, s stateless.State) error {
			msg.Status = s.(Status)
			return nil
		},
		stateless.FiringImmediate,
	)

	fsm.Configure(StatusSending).
		Permit(triggerDelivered, StatusSuccess).
		Permit(triggerNetworkLost, StatusPending).
		Permit(triggerRejected, StatusFailed).
		Permit(triggerQueue, StatusPending)

	fsm.Configure(StatusPending).
		Permit(triggerDispatch, StatusSending).
		Ignore(triggerQueue)

	fsm.Configure(StatusFailed).
		Permit(triggerDispatch, StatusSending).
		Permit(triggerQueue, StatusPending)

	fsm.Configure(StatusSuccess)

	return fsm
}

// transition fires t on msg and reports the status before the call.
func transition(msg *Message, t statusTrigger) (Status, error) {
	from := msg.Status
	return from, statusMachine(msg).Fire(t)
}
