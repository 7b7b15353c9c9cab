package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	closedRecently := now.Add(-2 * time.Hour)
	closedLongAgo := now.Add(-48 * time.Hour)

	base := Facts{Now: now, Grace: time.Minute, ReturnTimeout: 24 * time.Hour}

	cases := []struct {
		name  string
		facts func(f Facts) Facts
		want  State
	}{
		{
			name:  "no queue without menu",
			facts: func(f Facts) Facts { return f },
			want:  StateNoQueue,
		},
		{
			name: "no queue ignores conversation history",
			facts: func(f Facts) Facts {
				f.OpenConversation = true
				f.OpenSince = now.Add(-time.Hour)
				f.LastClosedAt = &closedRecently
				return f
			},
			want: StateNoQueue,
		},
		{
			name: "no queue with pending menu",
			facts: func(f Facts) Facts {
				f.MenuPending = true
				return f
			},
			want: StateAwaitingSelection,
		},
		{
			name: "queue with old open conversation",
			facts: func(f Facts) Facts {
				f.QueueSet = true
				f.OpenConversation = true
				f.OpenSince = now.Add(-5 * time.Minute)
				f.LastClosedAt = &closedRecently
				return f
			},
			want: StateRouted,
		},
		{
			name: "queue with fresh open conversation and recent close",
			facts: func(f Facts) Facts {
				f.QueueSet = true
				f.OpenConversation = true
				f.OpenSince = now.Add(-10 * time.Second)
				f.LastClosedAt = &closedRecently
				return f
			},
			want: StateRouted,
		},
		{
			name: "queue with fresh open conversation and old close",
			facts: func(f Facts) Facts {
				f.QueueSet = true
				f.OpenConversation = true
				f.OpenSince = now.Add(-10 * time.Second)
				f.LastClosedAt = &closedLongAgo
				return f
			},
			want: StateRouted,
		},
		{
			name: "queue closed inside return window",
			facts: func(f Facts) Facts {
				f.QueueSet = true
				f.LastClosedAt = &closedRecently
				return f
			},
			want: StateTimedOutReturn,
		},
		{
			name: "queue closed outside return window",
			facts: func(f Facts) Facts {
				f.QueueSet = true
				f.LastClosedAt = &closedLongAgo
				return f
			},
			want: StateExpiredReturn,
		},
		{
			name: "queue without any conversation",
			facts: func(f Facts) Facts {
				f.QueueSet = true
				return f
			},
			want: StateRouted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.facts(base)); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyReturnWindowBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	closedAt := now.Add(-24 * time.Hour)
	got := Classify(Facts{QueueSet: true, LastClosedAt: &closedAt, Now: now, ReturnTimeout: 24 * time.Hour})
	if got != StateExpiredReturn {
		t.Fatalf("a close exactly at the timeout must be expired, got %s", got)
	}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		state       State
		event       Event
		wantState   State
		wantActions []Action
	}{
		{StateNoQueue, EventInbound, StateAwaitingSelection, []Action{ActionSendMenu}},
		{StateAwaitingSelection, EventValidSelection, StateRouted, []Action{ActionBindQueue, ActionSendWelcome}},
		{StateAwaitingSelection, EventInvalidSelection, StateAwaitingSelection, []Action{ActionSendInvalidMenu}},
		{StateRouted, EventInbound, StateRouted, []Action{ActionDeliver}},
		{StateTimedOutReturn, EventInbound, StateRouted, []Action{ActionReopenConversation, ActionDeliver}},
		{StateExpiredReturn, EventInbound, StateRouted, []Action{ActionOpenConversation, ActionDeliver}},
		{StateRouted, EventClosed, StateNoQueue, []Action{ActionSendCloseMessage, ActionResetQueue}},
		{StateTimedOutReturn, EventReopened, StateTimedOutReturn, []Action{ActionMarkOpen}},
		{StateNoQueue, EventTransferredToQueue, StateRouted, []Action{ActionBindQueue}},
		{StateRouted, EventValidSelection, StateRouted, nil},
	}

	for _, tc := range cases {
		t.Run(string(tc.state)+"/"+string(tc.event), func(t *testing.T) {
			gotState, gotActions := Transition(tc.state, tc.event)
			if gotState != tc.wantState {
				t.Errorf("state = %s, want %s", gotState, tc.wantState)
			}
			if !reflect.DeepEqual(gotActions, tc.wantActions) {
				t.Errorf("actions = %v, want %v", gotActions, tc.wantActions)
			}
		})
	}
}

func TestNoQueueNeverRoutesDirectly(t *testing.T) {
	_, actions := Transition(StateNoQueue, EventInbound)
	if Has(actions, ActionDeliver) || Has(actions, ActionBindQueue) {
		t.Fatalf("inbound without queue must only send the menu, got %v", actions)
	}
}
