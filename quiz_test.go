package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{
		send: make(chan any, 32),
	}
}

// drain collects every message currently queued for the client.
func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func joinMsg(roomID, userID, username string) ClientMessage {
	return ClientMessage{
		Type:     "joinRoom",
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
	}
}

// activeRoom returns a room where Alice (host) and Bob (challenger) have
// joined and the game has started, with both clients drained.
func activeRoom(t *testing.T) (*Room, *Config, *Client, *Client) {
	t.Helper()

	cfg := &Config{}
	room := newRoom("r1")
	alice := newTestClient()
	bob := newTestClient()

	room.handleJoin(cfg, joinRequest{client: alice, msg: joinMsg("r1", "a", "Alice")})
	room.handleJoin(cfg, joinRequest{client: bob, msg: joinMsg("r1", "b", "Bob")})

	require.True(t, room.active)
	require.Equal(t, "a", room.currentTurn)

	drain(alice)
	drain(bob)

	return room, cfg, alice, bob
}

func TestJoinStartsGameAtTwoPlayers(t *testing.T) {
	cfg := &Config{}
	room := newRoom("r1")
	alice := newTestClient()
	bob := newTestClient()

	room.handleJoin(cfg, joinRequest{client: alice, msg: joinMsg("r1", "a", "Alice")})

	assert.Empty(t, drain(alice))
	assert.False(t, room.active)
	assert.Empty(t, room.currentTurn)

	room.handleJoin(cfg, joinRequest{client: bob, msg: joinMsg("r1", "b", "Bob")})

	aliceMsgs := drain(alice)
	require.Len(t, aliceMsgs, 2)

	joined, ok := aliceMsgs[0].(PlayerJoinedMessage)
	require.True(t, ok)
	assert.Equal(t, "b", joined.UserID)
	assert.Equal(t, "Bob", joined.Username)

	started, ok := aliceMsgs[1].(RoomStateMessage)
	require.True(t, ok)
	assert.Equal(t, "gameStarted", started.Type)
	assert.Equal(t, "a", started.CurrentTurn)
	require.Len(t, started.Players, 2)
	assert.Equal(t, "Alice", started.Players[0].Username)
	assert.Equal(t, "Bob", started.Players[1].Username)
	require.Len(t, started.CellOwnership, gridCells)
	for _, owner := range started.CellOwnership {
		assert.Empty(t, owner)
	}

	// The joiner does not get its own playerJoined notification.
	bobMsgs := drain(bob)
	require.Len(t, bobMsgs, 1)
	assert.Equal(t, "gameStarted", bobMsgs[0].(RoomStateMessage).Type)
}

func TestJoinRequiresIdentity(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		username string
	}{
		{"missing user id", "", "Alice"},
		{"missing username", "a", ""},
		{"missing both", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			room := newRoom("r1")
			c := newTestClient()

			room.handleJoin(cfg, joinRequest{client: c, msg: joinMsg("r1", tt.userID, tt.username)})

			msgs := drain(c)
			require.Len(t, msgs, 1)
			errMsg, ok := msgs[0].(ErrorMessage)
			require.True(t, ok)
			assert.Equal(t, "Authentication required", errMsg.Message)

			assert.Empty(t, room.players)
			assert.Empty(t, room.clients)
		})
	}
}

func TestJoinRejectedWhileGameInProgress(t *testing.T) {
	room, cfg, alice, bob := activeRoom(t)

	carol := newTestClient()
	room.handleJoin(cfg, joinRequest{client: carol, msg: joinMsg("r1", "c", "Carol")})

	msgs := drain(carol)
	require.Len(t, msgs, 1)
	errMsg, ok := msgs[0].(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "Game is already in progress.", errMsg.Message)

	// The room itself is unaffected.
	assert.Len(t, room.players, 2)
	assert.True(t, room.active)
	assert.Empty(t, drain(alice))
	assert.Empty(t, drain(bob))
}

func TestJoinRejectedWhenRoomFull(t *testing.T) {
	room, cfg, _, _ := activeRoom(t)

	// A finished match leaves both players on the roster with the room
	// inactive; a third identity still cannot join.
	room.mu.Lock()
	room.active = false
	room.mu.Unlock()

	carol := newTestClient()
	room.handleJoin(cfg, joinRequest{client: carol, msg: joinMsg("r1", "c", "Carol")})

	msgs := drain(carol)
	require.Len(t, msgs, 1)
	errMsg, ok := msgs[0].(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "Room is full.", errMsg.Message)
	assert.Len(t, room.players, 2)
}

func TestRejoinRefreshesConnectionOnly(t *testing.T) {
	room, cfg, _, bob := activeRoom(t)

	room.mu.Lock()
	room.players[0].Score = 5
	room.mu.Unlock()

	alice2 := newTestClient()
	room.handleJoin(cfg, joinRequest{client: alice2, msg: joinMsg("r1", "a", "Alice")})

	require.Len(t, room.players, 2)
	assert.Same(t, alice2, room.players[0].client)
	assert.Equal(t, 5, room.players[0].Score)
	assert.Equal(t, "a", room.players[0].UserID)

	// Everyone gets a resync snapshot instead of a fresh gameStarted.
	for _, c := range []*Client{alice2, bob} {
		msgs := drain(c)
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1].(RoomStateMessage)
		assert.Equal(t, "updatePlayers", last.Type)
		assert.Equal(t, "a", last.CurrentTurn)
		require.Len(t, last.Players, 2)
		assert.Equal(t, 5, last.Players[0].Score)
	}
}

// finishedRoom returns an active room driven to gameOver via the score
// threshold, with all clients drained.
func finishedRoom(t *testing.T) (*Room, *Config, *Client, *Client) {
	t.Helper()

	room, cfg, alice, bob := activeRoom(t)

	room.mu.Lock()
	room.players[0].Score = 12
	room.mu.Unlock()

	room.handleSubmitAnswer(cfg, answerRequest{
		client:    alice,
		playerID:  "a",
		cellIndex: 0,
		isCorrect: true,
		nextTurn:  "b",
	})

	require.False(t, room.active)
	drain(alice)
	drain(bob)

	return room, cfg, alice, bob
}

func TestRejoinAfterGameOverResyncs(t *testing.T) {
	room, cfg, _, _ := finishedRoom(t)

	alice2 := newTestClient()
	room.handleJoin(cfg, joinRequest{client: alice2, msg: joinMsg("r1", "a", "Alice")})

	assert.False(t, room.active)

	msgs := drain(alice2)
	require.NotEmpty(t, msgs)
	snapshot, ok := msgs[len(msgs)-1].(RoomStateMessage)
	require.True(t, ok)
	assert.Equal(t, "updatePlayers", snapshot.Type)
	require.Len(t, snapshot.Players, 2)
	assert.Equal(t, 13, snapshot.Players[0].Score)
	assert.Equal(t, ownerHost, snapshot.CellOwnership[0])
}

func TestRefilledFinishedRoomDoesNotRestart(t *testing.T) {
	room, cfg, _, bob := finishedRoom(t)

	// Bob leaves the finished room, then comes back on a new connection.
	room.dropClient(cfg, bob)
	require.Len(t, room.players, 1)

	bob2 := newTestClient()
	room.handleJoin(cfg, joinRequest{client: bob2, msg: joinMsg("r1", "b", "Bob")})

	require.Len(t, room.players, 2)
	assert.False(t, room.active)

	msgs := drain(bob2)
	require.NotEmpty(t, msgs)
	snapshot, ok := msgs[len(msgs)-1].(RoomStateMessage)
	require.True(t, ok)
	assert.Equal(t, "updatePlayers", snapshot.Type)
	assert.Equal(t, ownerHost, snapshot.CellOwnership[0])
}

func TestRestartAfterGameOverAllowsNewMatch(t *testing.T) {
	room, cfg, alice, bob := finishedRoom(t)

	room.handleRestart(cfg)
	drain(alice)
	drain(bob)

	carol := newTestClient()
	dave := newTestClient()
	room.handleJoin(cfg, joinRequest{client: carol, msg: joinMsg("r1", "c", "Carol")})
	room.handleJoin(cfg, joinRequest{client: dave, msg: joinMsg("r1", "d", "Dave")})

	assert.True(t, room.active)
	assert.Equal(t, "c", room.currentTurn)

	msgs := drain(dave)
	require.NotEmpty(t, msgs)
	started, ok := msgs[len(msgs)-1].(RoomStateMessage)
	require.True(t, ok)
	assert.Equal(t, "gameStarted", started.Type)
	assert.Equal(t, 0, started.Players[0].Score)
	for _, owner := range started.CellOwnership {
		assert.Empty(t, owner)
	}
}

func TestCellClickByTurnHolder(t *testing.T) {
	room, cfg, alice, bob := activeRoom(t)

	room.handleCellClick(cfg, clickRequest{client: alice, index: 12})

	_, used := room.usedCells[12]
	assert.True(t, used)

	for _, c := range []*Client{alice, bob} {
		msgs := drain(c)
		require.Len(t, msgs, 1)
		click, ok := msgs[0].(CellClickMessage)
		require.True(t, ok)
		assert.Equal(t, 12, click.Index)
		assert.Equal(t, "a", click.CurrentTurn)
		assert.Equal(t, 30, click.Seconds)
	}
}

func TestCellClickSilentlyDropped(t *testing.T) {
	t.Run("from non-turn-holder", func(t *testing.T) {
		room, cfg, alice, bob := activeRoom(t)

		room.handleCellClick(cfg, clickRequest{client: bob, index: 3})

		assert.Empty(t, room.usedCells)
		assert.Empty(t, drain(alice))
		assert.Empty(t, drain(bob))
	})

	t.Run("from unknown connection", func(t *testing.T) {
		room, cfg, alice, bob := activeRoom(t)

		room.handleCellClick(cfg, clickRequest{client: newTestClient(), index: 3})

		assert.Empty(t, room.usedCells)
		assert.Empty(t, drain(alice))
		assert.Empty(t, drain(bob))
	})

	t.Run("against inactive room", func(t *testing.T) {
		room, cfg, alice, bob := activeRoom(t)
		room.mu.Lock()
		room.active = false
		room.mu.Unlock()

		room.handleCellClick(cfg, clickRequest{client: alice, index: 3})

		assert.Empty(t, room.usedCells)
		assert.Empty(t, drain(alice))
		assert.Empty(t, drain(bob))
	})
}

func TestQuestionRelayedVerbatim(t *testing.T) {
	room, _, alice, bob := activeRoom(t)

	room.handleQuestion(questionRequest{
		question:      "What is the capital of France?",
		options:       []string{"Paris", "Lyon", "Nice", "Lille"},
		correctAnswer: "Paris",
	})

	for _, c := range []*Client{alice, bob} {
		msgs := drain(c)
		require.Len(t, msgs, 1)
		q, ok := msgs[0].(QuestionMessage)
		require.True(t, ok)
		assert.Equal(t, "What is the capital of France?", q.Question)
		assert.Equal(t, "Paris", q.CorrectAnswer)
		assert.Equal(t, "a", q.CurrentTurn)
	}
}

func TestSubmitAnswerCorrectClaimsCell(t *testing.T) {
	room, cfg, alice, bob := activeRoom(t)

	room.handleSubmitAnswer(cfg, answerRequest{
		client:    alice,
		playerID:  "a",
		cellIndex: 7,
		isCorrect: true,
		nextTurn:  "b",
	})

	assert.Equal(t, ownerHost, room.ownership[7])
	assert.Equal(t, 1, room.players[0].Score)
	assert.Equal(t, 0, room.players[1].Score)
	assert.Equal(t, "b", room.currentTurn)

	msgs := drain(bob)
	require.Len(t, msgs, 3)

	ownership, ok := msgs[0].(UpdateOwnershipMessage)
	require.True(t, ok)
	assert.Equal(t, 7, ownership.CellIndex)
	assert.Equal(t, ownerHost, ownership.Owner)

	update, ok := msgs[1].(RoomStateMessage)
	require.True(t, ok)
	assert.Equal(t, "updatePlayers", update.Type)
	// The snapshot is broadcast before the turn handoff.
	assert.Equal(t, "a", update.CurrentTurn)
	assert.Equal(t, 1, update.Players[0].Score)

	turn, ok := msgs[2].(UpdateTurnMessage)
	require.True(t, ok)
	assert.Equal(t, "b", turn.CurrentTurn)

	assert.Len(t, drain(alice), 3)
}

func TestSubmitAnswerIncorrectStealsCell(t *testing.T) {
	tests := []struct {
		name      string
		playerID  string
		wantOwner string
	}{
		{"incorrect answer by host goes to challenger", "a", ownerChallenger},
		{"incorrect answer by challenger goes to host", "b", ownerHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room, cfg, alice, bob := activeRoom(t)

			actor := alice
			opponent := 1
			if tt.playerID == "b" {
				actor = bob
				opponent = 0
			}

			room.handleSubmitAnswer(cfg, answerRequest{
				client:    actor,
				playerID:  tt.playerID,
				cellIndex: 3,
				isCorrect: false,
				nextTurn:  "a",
			})

			assert.Equal(t, tt.wantOwner, room.ownership[3])
			assert.Equal(t, 1, room.players[opponent].Score)
		})
	}
}

func TestSubmitAnswerRequiresMatchingConnection(t *testing.T) {
	room, cfg, alice, bob := activeRoom(t)

	// Bob's connection cannot act as Alice.
	room.handleSubmitAnswer(cfg, answerRequest{
		client:    bob,
		playerID:  "a",
		cellIndex: 3,
		isCorrect: true,
		nextTurn:  "b",
	})

	assert.Empty(t, room.ownership[3])
	assert.Equal(t, 0, room.players[0].Score)
	assert.Empty(t, drain(alice))
	assert.Empty(t, drain(bob))
}

func TestScoreThresholdWinsRegardlessOfGrid(t *testing.T) {
	room, cfg, alice, _ := activeRoom(t)

	room.mu.Lock()
	room.players[0].Score = 12
	room.mu.Unlock()

	room.handleSubmitAnswer(cfg, answerRequest{
		client:    alice,
		playerID:  "a",
		cellIndex: 0,
		isCorrect: true,
		nextTurn:  "b",
	})

	assert.False(t, room.active)

	msgs := drain(alice)
	require.NotEmpty(t, msgs)
	over, ok := msgs[len(msgs)-1].(GameOverMessage)
	require.True(t, ok)
	assert.Equal(t, "a", over.Winner)
	require.Len(t, over.FinalScores, 2)
	assert.Equal(t, 13, over.FinalScores[0].Score)
	assert.Contains(t, over.Message, "reaching 13 points")
}

func TestPatternCompletionWins(t *testing.T) {
	room, cfg, _, bob := activeRoom(t)

	// Bob already owns four cells of the second row; a steal from Alice's
	// incorrect answer completes it.
	room.mu.Lock()
	for _, i := range []int{5, 6, 7, 8} {
		room.ownership[i] = ownerChallenger
	}
	room.mu.Unlock()

	room.handleSubmitAnswer(cfg, answerRequest{
		client:    room.players[0].client,
		playerID:  "a",
		cellIndex: 9,
		isCorrect: false,
		nextTurn:  "b",
	})

	assert.False(t, room.active)

	msgs := drain(bob)
	require.NotEmpty(t, msgs)
	over, ok := msgs[len(msgs)-1].(GameOverMessage)
	require.True(t, ok)
	assert.Equal(t, "b", over.Winner)
	assert.Contains(t, over.Message, "Winner: Bob")
}

func TestGridExhaustionTieGoesToHost(t *testing.T) {
	room, cfg, alice, _ := activeRoom(t)

	// Fill the first 24 cells with a layout that completes no pattern:
	// rows alternate between PPCCP and its complement.
	layout := []string{
		ownerHost, ownerHost, ownerChallenger, ownerChallenger, ownerHost,
		ownerChallenger, ownerChallenger, ownerHost, ownerHost, ownerChallenger,
		ownerHost, ownerHost, ownerChallenger, ownerChallenger, ownerHost,
		ownerChallenger, ownerChallenger, ownerHost, ownerHost, ownerChallenger,
		ownerHost, ownerHost, ownerChallenger, ownerChallenger, ownerHost,
	}

	room.mu.Lock()
	for i := 0; i < 24; i++ {
		room.ownership[i] = layout[i]
		room.usedCells[i] = struct{}{}
	}
	room.players[0].Score = 6
	room.players[1].Score = 7
	room.mu.Unlock()

	room.handleCellClick(cfg, clickRequest{client: alice, index: 24})
	room.handleSubmitAnswer(cfg, answerRequest{
		client:    alice,
		playerID:  "a",
		cellIndex: 24,
		isCorrect: true,
		nextTurn:  "b",
	})

	assert.False(t, room.active)
	assert.Equal(t, 7, room.players[0].Score)
	assert.Equal(t, 7, room.players[1].Score)

	msgs := drain(alice)
	require.NotEmpty(t, msgs)
	over, ok := msgs[len(msgs)-1].(GameOverMessage)
	require.True(t, ok)
	assert.Equal(t, "a", over.Winner)
	assert.Contains(t, over.Message, "Grid full")
}

func TestRestartIsNoOpWhileActive(t *testing.T) {
	room, cfg, alice, bob := activeRoom(t)

	room.handleRestart(cfg)

	assert.True(t, room.active)
	assert.Len(t, room.players, 2)
	assert.Empty(t, drain(alice))
	assert.Empty(t, drain(bob))
}

func TestRestartResetsInactiveRoom(t *testing.T) {
	room, cfg, alice, _ := activeRoom(t)

	room.mu.Lock()
	room.active = false
	room.ownership[4] = ownerHost
	room.usedCells[4] = struct{}{}
	room.mu.Unlock()

	room.handleRestart(cfg)

	assert.Empty(t, room.players)
	assert.Empty(t, room.usedCells)
	assert.Empty(t, room.currentTurn)
	assert.False(t, room.active)

	msgs := drain(alice)
	require.Len(t, msgs, 1)
	started, ok := msgs[0].(RoomStateMessage)
	require.True(t, ok)
	assert.Equal(t, "gameStarted", started.Type)
	assert.Empty(t, started.Players)
	require.Len(t, started.CellOwnership, gridCells)
	for _, owner := range started.CellOwnership {
		assert.Empty(t, owner)
	}
}

func TestDisconnectEndsActiveGame(t *testing.T) {
	room, cfg, alice, bob := activeRoom(t)

	room.dropClient(cfg, bob)

	require.Len(t, room.players, 1)
	assert.Equal(t, "a", room.players[0].UserID)
	assert.False(t, room.active)

	msgs := drain(alice)
	require.Len(t, msgs, 2)

	left, ok := msgs[0].(PlayerLeftMessage)
	require.True(t, ok)
	assert.Equal(t, "b", left.UserID)
	assert.Equal(t, "Bob", left.Username)

	ended, ok := msgs[1].(GameEndedMessage)
	require.True(t, ok)
	assert.Equal(t, "Game ended due to player disconnection", ended.Message)
}

func TestDisconnectOfStaleConnectionKeepsPlayer(t *testing.T) {
	room, cfg, alice, _ := activeRoom(t)

	// Alice reconnects, then her old connection finally closes.
	alice2 := newTestClient()
	room.handleJoin(cfg, joinRequest{client: alice2, msg: joinMsg("r1", "a", "Alice")})
	drain(alice2)

	room.dropClient(cfg, alice)

	assert.Len(t, room.players, 2)
	assert.True(t, room.active)
}

func TestRosterNeverExceedsTwoPlayers(t *testing.T) {
	cfg := &Config{}
	room := newRoom("r1")

	for _, id := range []string{"a", "b", "c", "d", "a"} {
		room.handleJoin(cfg, joinRequest{client: newTestClient(), msg: joinMsg("r1", id, "Player "+id)})
		assert.LessOrEqual(t, len(room.players), maxPlayers)
	}
}

func TestGameManagerReusesRooms(t *testing.T) {
	cfg := &Config{}
	gm := newGameManager(0)

	first := gm.getRoom(cfg, "r1")
	second := gm.getRoom(cfg, "r1")
	other := gm.getRoom(cfg, "r2")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)

	assert.Nil(t, gm.lookupRoom("missing"))
	assert.Same(t, first, gm.lookupRoom("r1"))
}

func TestGameManagerDropClientScansAllRooms(t *testing.T) {
	cfg := &Config{}
	gm := newGameManager(0)

	r1 := gm.getRoom(cfg, "r1")
	r2 := gm.getRoom(cfg, "r2")

	c := newTestClient()
	r1.handleJoin(cfg, joinRequest{client: c, msg: joinMsg("r1", "a", "Alice")})
	r2.handleJoin(cfg, joinRequest{client: c, msg: joinMsg("r2", "a", "Alice")})

	gm.dropClient(cfg, c)

	assert.Empty(t, r1.players)
	assert.Empty(t, r2.players)
	assert.Empty(t, r1.clients)
	assert.Empty(t, r2.clients)
}

func TestReapedRoomStopsRunLoop(t *testing.T) {
	cfg := &Config{}
	gm := newGameManager(0)
	room := gm.getRoom(cfg, "r1")

	room.closeAll()

	assert.Empty(t, room.clients)
	select {
	case <-room.done:
	default:
		t.Fatal("expected done to be closed")
	}
}

func TestNewRoomID(t *testing.T) {
	gm := newGameManager(0)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gm.newRoomID()
		assert.Len(t, id, 8)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
