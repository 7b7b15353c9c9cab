package domain

import "time"

// State is the routing state of a lead on a channel.
type State string

const (
	// StateNoQueue means the lead has no queue and must be shown the menu.
	StateNoQueue State = "no_queue"
	// StateAwaitingSelection means the menu was sent and no valid reply arrived yet.
	StateAwaitingSelection State = "awaiting_selection"
	// StateRouted means the lead has a queue and an open conversation.
	StateRouted State = "routed"
	// StateTimedOutReturn means the lead has a queue, no open conversation
	// and its last conversation closed inside the return window.
	StateTimedOutReturn State = "timed_out_return"
	// StateExpiredReturn means the lead has a queue, no open conversation and
	// its last conversation closed before the return window. No menu is
	// forced in this state.
	StateExpiredReturn State = "expired_return"
)

// Event drives a state transition.
type Event string

const (
	EventInbound            Event = "inbound"
	EventValidSelection     Event = "valid_selection"
	EventInvalidSelection   Event = "invalid_selection"
	EventClosed             Event = "closed"
	EventReopened           Event = "reopened"
	EventTransferredToQueue Event = "transferred_to_queue"
)

// Action is an effect the caller must apply after a transition.
type Action string

const (
	ActionSendMenu           Action = "send_menu"
	ActionSendInvalidMenu    Action = "send_invalid_menu"
	ActionBindQueue          Action = "bind_queue"
	ActionSendWelcome        Action = "send_welcome"
	ActionDeliver            Action = "deliver"
	ActionReopenConversation Action = "reopen_conversation"
	ActionOpenConversation   Action = "open_conversation"
	ActionSendCloseMessage   Action = "send_close_message"
	ActionResetQueue         Action = "reset_queue"
	ActionMarkOpen           Action = "mark_open"
)

// Facts is the snapshot Classify derives a state from.
type Facts struct {
	QueueSet         bool
	MenuPending      bool
	OpenConversation bool
	OpenSince        time.Time
	LastClosedAt     *time.Time
	Now              time.Time
	Grace            time.Duration
	ReturnTimeout    time.Duration
}

// Classify derives the state of a lead from stored facts. Rules apply in order:
// no queue, open conversation older than the grace window, last close inside
// the return window, last close outside it, otherwise routed. The return
// rules only apply while no conversation is open, so a conversation opened
// inside the grace window stays routed.
func Classify(f Facts) State {
	if !f.QueueSet {
		if f.MenuPending {
			return StateAwaitingSelection
		}
		return StateNoQueue
	}
	if f.OpenConversation && f.Now.Sub(f.OpenSince) > f.Grace {
		return StateRouted
	}
	if f.LastClosedAt != nil && !f.OpenConversation {
		if f.Now.Sub(*f.LastClosedAt) < f.ReturnTimeout {
			return StateTimedOutReturn
		}
		return StateExpiredReturn
	}
	return StateRouted
}

// Transition applies event to state. It is pure: the returned actions are
// carried out by the caller in order.
func Transition(state State, event Event) (State, []Action) {
	switch event {
	case EventClosed:
		return StateNoQueue, []Action{ActionSendCloseMessage, ActionResetQueue}
	case EventReopened:
		return state, []Action{ActionMarkOpen}
	case EventTransferredToQueue:
		return StateRouted, []Action{ActionBindQueue}
	}

	switch state {
	case StateNoQueue:
		if event == EventInbound {
			return StateAwaitingSelection, []Action{ActionSendMenu}
		}
	case StateAwaitingSelection:
		switch event {
		case EventValidSelection:
			return StateRouted, []Action{ActionBindQueue, ActionSendWelcome}
		case EventInvalidSelection, EventInbound:
			return StateAwaitingSelection, []Action{ActionSendInvalidMenu}
		}
	case StateRouted:
		if event == EventInbound {
			return StateRouted, []Action{ActionDeliver}
		}
	case StateTimedOutReturn:
		if event == EventInbound {
			return StateRouted, []Action{ActionReopenConversation, ActionDeliver}
		}
	case StateExpiredReturn:
		if event == EventInbound {
			return StateRouted, []Action{ActionOpenConversation, ActionDeliver}
		}
	}
	return state, nil
}

// Has reports whether actions contains a.
func Has(actions []Action, a Action) bool {
	for _, candidate := range actions {
		if candidate == a {
			return true
		}
	}
	return false
}
