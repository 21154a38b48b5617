package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	now := time.UnixMilli(1712345678901)

	env, err := NewEnvelope(EventDeclare, map[string]int{"value": 3}, 7, now)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Event != EventDeclare {
		t.Errorf("expected event %q, got %q", EventDeclare, env.Event)
	}
	if env.Sequence != 7 {
		t.Errorf("expected sequence 7, got %d", env.Sequence)
	}
	if env.Timestamp != 1712345678901 {
		t.Errorf("expected timestamp 1712345678901, got %d", env.Timestamp)
	}
	if env.ID == "" {
		t.Error("expected a generated ID")
	}

	// IDs must differ between envelopes (dedup key)
	env2, _ := NewEnvelope(EventDeclare, nil, 8, now)
	if env.ID == env2.ID {
		t.Error("expected distinct IDs for distinct envelopes")
	}
}

func TestNewEnvelope_EmptyEvent(t *testing.T) {
	if _, err := NewEnvelope("", nil, 1, time.Now()); err != ErrEmptyEvent {
		t.Errorf("expected ErrEmptyEvent, got %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	env, err := NewEnvelope(EventPlay, map[string]any{"pieces": []string{"G7", "R3"}}, 12, now)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	wire, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeEnvelope(wire)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if got.Event != env.Event || got.Sequence != env.Sequence || got.ID != env.ID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, env)
	}
	if !got.Sequenced() {
		t.Error("expected sequenced envelope")
	}
	if !got.SentAt().Equal(now) {
		t.Errorf("expected SentAt %v, got %v", now, got.SentAt())
	}
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	cases := []struct {
		name string
		wire string
	}{
		{"not json", "{{{"},
		{"missing event", `{"data":{},"sequence":1}`},
		{"wrong type", `[1,2,3]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeEnvelope([]byte(tc.wire)); err == nil {
				t.Errorf("expected error for %q", tc.wire)
			}
		})
	}
}

func TestPhase(t *testing.T) {
	valid := []Phase{PhaseWaiting, PhasePreparation, PhaseDeclaration, PhaseTurn, PhaseTurnResults, PhaseScoring}
	for _, p := range valid {
		if !p.Valid() {
			t.Errorf("expected %q to be valid", p)
		}
	}
	if Phase("intermission").Valid() {
		t.Error("expected unknown phase to be invalid")
	}

	inRound := map[Phase]bool{
		PhaseWaiting:     false,
		PhasePreparation: false,
		PhaseDeclaration: true,
		PhaseTurn:        true,
		PhaseTurnResults: true,
		PhaseScoring:     false,
	}
	for p, want := range inRound {
		if got := p.InRound(); got != want {
			t.Errorf("Phase(%q).InRound() = %v, want %v", p, got, want)
		}
	}
}

func TestDecodeGameEvent(t *testing.T) {
	cases := []struct {
		name  string
		event string
		data  string
		check func(t *testing.T, ev GameEvent)
	}{
		{
			name:  "phase change",
			event: EventPhaseChange,
			data:  `{"phase":"declaration","round":2,"current_player":"ana"}`,
			check: func(t *testing.T, ev GameEvent) {
				pc, ok := ev.(PhaseChange)
				if !ok {
					t.Fatalf("expected PhaseChange, got %T", ev)
				}
				if pc.Phase != PhaseDeclaration || pc.Round != 2 || pc.CurrentPlayer != "ana" {
					t.Errorf("unexpected payload: %+v", pc)
				}
			},
		},
		{
			name:  "declare",
			event: EventDeclare,
			data:  `{"player":"bo","value":3,"declarations":{"bo":3},"current_declarer":"cy"}`,
			check: func(t *testing.T, ev GameEvent) {
				d, ok := ev.(DeclareRecorded)
				if !ok {
					t.Fatalf("expected DeclareRecorded, got %T", ev)
				}
				if d.Value != 3 || d.CurrentDeclarer != "cy" {
					t.Errorf("unexpected payload: %+v", d)
				}
			},
		},
		{
			name:  "recovery response",
			event: EventRecoveryResponse,
			data:  `{"start_sequence":7,"end_sequence":11,"events":[],"complete":true}`,
			check: func(t *testing.T, ev GameEvent) {
				rr, ok := ev.(RecoveryResponse)
				if !ok {
					t.Fatalf("expected RecoveryResponse, got %T", ev)
				}
				if rr.StartSequence != 7 || rr.EndSequence != 11 || !rr.Complete {
					t.Errorf("unexpected payload: %+v", rr)
				}
			},
		},
		{
			name:  "unknown event carried",
			event: "spectator_joined",
			data:  `{"who":"dee"}`,
			check: func(t *testing.T, ev GameEvent) {
				u, ok := ev.(UnknownEvent)
				if !ok {
					t.Fatalf("expected UnknownEvent, got %T", ev)
				}
				if u.Name != "spectator_joined" {
					t.Errorf("unexpected name %q", u.Name)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := &Envelope{Event: tc.event, Data: []byte(tc.data), Sequence: 1}
			ev, err := DecodeGameEvent(env)
			if err != nil {
				t.Fatalf("DecodeGameEvent: %v", err)
			}
			if ev.EventName() != tc.event {
				t.Errorf("EventName() = %q, want %q", ev.EventName(), tc.event)
			}
			tc.check(t, ev)
		})
	}
}

func TestDecodeGameEvent_BadPayload(t *testing.T) {
	env := &Envelope{Event: EventPhaseChange, Data: []byte(`{"phase":"limbo"}`)}
	_, err := DecodeGameEvent(env)
	if err == nil {
		t.Fatal("expected error for unknown phase")
	}
	if !strings.Contains(err.Error(), "limbo") {
		t.Errorf("error should name the bad phase: %v", err)
	}

	env = &Envelope{Event: EventDeclare, Data: []byte(`"not an object"`)}
	if _, err := DecodeGameEvent(env); err == nil {
		t.Fatal("expected error for malformed declare payload")
	}
}
