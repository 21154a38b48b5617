package gamestate

import (
	"context"
	"errors"
	"testing"

	"github.com/tilewire-dev/tilewire/pkg/connection"
	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

type sentAction struct {
	RoomID  string
	Event   string
	Payload any
}

type fakeConnector struct {
	connectErr  error
	sendErr     error
	connects    []string
	disconnects []string
	sends       []sentAction
}

func (f *fakeConnector) Connect(_ context.Context, roomID string, _ connection.PlayerInfo) error {
	f.connects = append(f.connects, roomID)
	return f.connectErr
}

func (f *fakeConnector) Disconnect(roomID string, _ bool) {
	f.disconnects = append(f.disconnects, roomID)
}

func (f *fakeConnector) Send(roomID, event string, data any) (bool, error) {
	if f.sendErr != nil {
		return false, f.sendErr
	}
	f.sends = append(f.sends, sentAction{RoomID: roomID, Event: event, Payload: data})
	return true, nil
}

// joinedStore returns a store already joined to a room as alice, with a
// four-player roster.
func joinedStore(t *testing.T) (*Store, *fakeConnector) {
	t.Helper()
	conn := &fakeConnector{}
	st := NewStore(conn)
	if err := st.JoinRoom(context.Background(), "room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	st.ApplyEvent(protocol.GameStarted{
		Players: []protocol.Player{
			{Name: "alice", IsHost: true, Connected: true},
			{Name: "bob", Connected: true},
			{Name: "carol", Connected: true},
			{Name: "dave", Connected: true},
		},
		Round: 1,
	}, 1)
	return st, conn
}

func TestStore_JoinRoomFailureRecordsError(t *testing.T) {
	conn := &fakeConnector{connectErr: errors.New("dial refused")}
	st := NewStore(conn)

	err := st.JoinRoom(context.Background(), "room-1", "alice")
	if err == nil {
		t.Fatal("expected join error")
	}
	s := st.GetState()
	if s.Error == "" {
		t.Fatal("join failure should surface on state error")
	}
	if s.Connected {
		t.Fatal("state should not be connected after failed join")
	}
}

func TestStore_MakeDeclaration_LastDeclarerRule(t *testing.T) {
	st, conn := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{
		Phase: protocol.PhaseDeclaration,
		Hand:  []string{"R1", "R2", "R3", "R4", "R5", "R6", "R7", "R8"},
	}, 2)
	// Three of four already declared; alice is last with a running total of 5.
	st.ApplyEvent(protocol.DeclareRecorded{
		Player: "dave", Value: 1,
		Declarations:    map[string]int{"bob": 2, "carol": 2, "dave": 1},
		CurrentDeclarer: "alice",
	}, 3)

	if err := st.MakeDeclaration(3); err == nil {
		t.Fatal("declaring 3 with total 5 should be rejected for the last declarer")
	} else if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(conn.sends) != 0 {
		t.Fatalf("rejected action must not reach the wire, sent %v", conn.sends)
	}

	for _, ok := range []int{2, 4} {
		if err := st.MakeDeclaration(ok); err != nil {
			t.Fatalf("declaring %d should be accepted: %v", ok, err)
		}
	}
	if len(conn.sends) != 2 || conn.sends[0].Event != protocol.EventMakeDeclaration {
		t.Fatalf("expected two declare sends, got %v", conn.sends)
	}

	// Derived options agree with the validation.
	opts := st.GetState().ValidOptions.DeclarationValues
	for _, v := range opts {
		if v == 3 {
			t.Fatalf("derived options should exclude 3, got %v", opts)
		}
	}
	if len(opts) != 8 {
		t.Fatalf("expected 8 legal values, got %v", opts)
	}
}

func TestStore_MakeDeclaration_Validation(t *testing.T) {
	st, _ := joinedStore(t)

	// Wrong phase.
	err := st.MakeDeclaration(2)
	if !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}

	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhaseDeclaration, CurrentPlayer: "bob"}, 2)

	// Not the current declarer.
	err = st.MakeDeclaration(2)
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}

	st.ApplyEvent(protocol.DeclareRecorded{Player: "bob", Value: 2, CurrentDeclarer: "alice"}, 3)

	// Out-of-range value.
	if err := st.MakeDeclaration(9); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 9, got %v", err)
	}
	var verr *ValidationError
	if err := st.MakeDeclaration(-1); !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}

func TestStore_PlayPieces_Validation(t *testing.T) {
	st, conn := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{
		Phase:         protocol.PhaseTurn,
		Hand:          []string{"R1", "R2", "R3", "R4"},
		CurrentPlayer: "alice",
	}, 2)

	tests := []struct {
		name    string
		indices []int
		wantErr bool
	}{
		{name: "empty", indices: nil, wantErr: true},
		{name: "out of bounds", indices: []int{0, 4}, wantErr: true},
		{name: "negative", indices: []int{-1}, wantErr: true},
		{name: "duplicate", indices: []int{1, 1}, wantErr: true},
		{name: "valid pair", indices: []int{0, 2}, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.PlayPieces(tt.indices)
			if tt.wantErr && err == nil {
				t.Fatal("expected rejection")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
		})
	}

	// A required count pins the play size.
	st.ApplyEvent(protocol.PlayRecorded{
		Player: "bob", Pieces: []string{"B1", "B2"},
		CurrentPlayer: "alice", RequiredCount: 2,
	}, 3)
	if err := st.PlayPieces([]int{0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected size rejection under required count, got %v", err)
	}
	if err := st.PlayPieces([]int{0, 1}); err != nil {
		t.Fatalf("matching required count should pass: %v", err)
	}

	last := conn.sends[len(conn.sends)-1]
	if last.Event != protocol.EventPlayPieces {
		t.Fatalf("expected %s send, got %+v", protocol.EventPlayPieces, last)
	}
}

func TestStore_RedealDecisions(t *testing.T) {
	st, conn := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhasePreparation}, 2)
	st.ApplyEvent(protocol.WeakHandsFound{Players: []string{"bob"}, CurrentWeakPlayer: "bob"}, 3)

	if err := st.AcceptRedeal(); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn while bob decides, got %v", err)
	}

	st.ApplyEvent(protocol.RedealDecisionNeeded{Player: "alice"}, 4)
	if err := st.DeclineRedeal(); err != nil {
		t.Fatalf("DeclineRedeal: %v", err)
	}
	if got := conn.sends[len(conn.sends)-1].Event; got != protocol.EventDeclineRedeal {
		t.Fatalf("sent %q, want %q", got, protocol.EventDeclineRedeal)
	}
}

func TestStore_StartNextRound_HostOnly(t *testing.T) {
	st, _ := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhaseScoring}, 2)
	st.ApplyEvent(protocol.HostChanged{Host: "bob"}, 3)

	if err := st.StartNextRound(); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	st.ApplyEvent(protocol.HostChanged{Host: "alice"}, 4)
	if err := st.StartNextRound(); err != nil {
		t.Fatalf("StartNextRound as host: %v", err)
	}
}

func TestStore_PendingErrorBlocksActions(t *testing.T) {
	st, _ := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhaseTurn, Hand: []string{"R1"}, CurrentPlayer: "alice"}, 2)
	st.ApplyEvent(protocol.PlayRejected{Player: "alice", Reason: "server said no"}, 3)

	if err := st.PlayPieces([]int{0}); !errors.Is(err, ErrPendingError) {
		t.Fatalf("expected ErrPendingError, got %v", err)
	}

	st.ClearError()
	if err := st.PlayPieces([]int{0}); err != nil {
		t.Fatalf("after ClearError: %v", err)
	}
}

func TestStore_ListenersOrderedAndRemovable(t *testing.T) {
	st, _ := joinedStore(t)

	var order []int
	st.AddListener(func(GameState) { order = append(order, 1) })
	remove := st.AddListener(func(GameState) { order = append(order, 2) })
	st.AddListener(func(GameState) { order = append(order, 3) })

	st.ApplyEvent(protocol.ScoreUpdate{Scores: map[string]int{"alice": 5}}, 2)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected registration order, got %v", order)
	}

	order = nil
	remove()
	remove()
	st.ApplyEvent(protocol.ScoreUpdate{Scores: map[string]int{"alice": 7}}, 3)
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("expected [1 3] after removal, got %v", order)
	}
}

func TestStore_ListenerGetsSnapshot(t *testing.T) {
	st, _ := joinedStore(t)

	var seen GameState
	st.AddListener(func(s GameState) { seen = s })
	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhaseTurn, Hand: []string{"R1", "R2"}}, 2)

	seen.Hand[0] = "mutated"
	if st.GetState().Hand[0] != "R1" {
		t.Fatal("listener snapshot aliases store state")
	}
}

func TestStore_HistoryReplay(t *testing.T) {
	st, _ := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhaseDeclaration}, 5)
	st.ApplyEvent(protocol.DeclareRecorded{Player: "bob", Value: 2, CurrentDeclarer: "carol"}, 6)
	st.ApplyEvent(protocol.DeclareRecorded{Player: "carol", Value: 1, CurrentDeclarer: "alice"}, 7)

	at6, ok := st.ReplayTo(6)
	if !ok {
		t.Fatal("expected replay coverage for sequence 6")
	}
	if at6.Declarations["bob"] != 2 {
		t.Fatalf("replayed declarations = %v", at6.Declarations)
	}
	if _, declared := at6.Declarations["carol"]; declared {
		t.Fatal("sequence 7 leaked into replay-to-6")
	}
	if at6.LastEventSequence != 6 {
		t.Fatalf("LastEventSequence = %d, want 6", at6.LastEventSequence)
	}
}

func TestStore_HistoryBounded(t *testing.T) {
	conn := &fakeConnector{}
	st := NewStore(conn, WithHistoryLimit(10))
	for i := 1; i <= 25; i++ {
		st.ApplyEvent(protocol.ScoreUpdate{Scores: map[string]int{"alice": i}}, uint64(i))
	}
	if got := len(st.History()); got != 10 {
		t.Fatalf("history length = %d, want 10", got)
	}
	if got := st.hist.len(); got != 10 {
		t.Fatalf("transition log holds %d entries, want 10", got)
	}
	if _, ok := st.ReplayTo(5); ok {
		t.Fatal("evicted sequences should not replay")
	}
}

func TestStore_LeaveRoomPreservesMidRound(t *testing.T) {
	st, conn := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhaseTurn, Hand: []string{"R1"}}, 2)

	st.LeaveRoom()
	s := st.GetState()
	if s.RoomID != "room-1" || len(s.Hand) != 1 {
		t.Fatal("mid-round leave should preserve game state")
	}
	if s.Connected {
		t.Fatal("mid-round leave should still drop the connection flag")
	}
	if len(conn.disconnects) != 1 {
		t.Fatalf("expected one disconnect, got %v", conn.disconnects)
	}
}

func TestStore_LeaveRoomResetsOutsideRound(t *testing.T) {
	st, _ := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhaseScoring}, 2)

	st.LeaveRoom()
	s := st.GetState()
	if s.RoomID != "" || s.PlayerName != "" || s.Players != nil {
		t.Fatalf("scoring-phase leave should reset state, got %+v", s)
	}
}

func TestStore_UnknownEventIgnored(t *testing.T) {
	st, _ := joinedStore(t)
	before := st.GetState()

	st.ApplyEvent(protocol.UnknownEvent{Name: "mystery", Data: []byte(`{}`)}, 99)

	after := st.GetState()
	if after.LastEventSequence != before.LastEventSequence {
		t.Fatal("unknown event must not advance the applied sequence")
	}
}

func TestStore_SendFailureReturnsError(t *testing.T) {
	st, conn := joinedStore(t)
	st.ApplyEvent(protocol.PhaseChange{Phase: protocol.PhaseScoring}, 2)
	conn.sendErr = errors.New("room evicted")

	if err := st.StartNextRound(); err == nil {
		t.Fatal("expected send failure to propagate")
	}
}
