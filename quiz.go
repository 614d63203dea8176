// Quizgrid head-to-head trivia game
//
// Two players share a 5x5 grid of trivia cells. The turn holder picks a
// cell, every client fetches and shows the question for it, and the acting
// client reports whether the answer was correct. A correct answer claims
// the cell and a point; an incorrect answer hands both to the opponent.
// First to 13 points, or to a full row, column, or diagonal, wins. If the
// grid fills up first, the higher score wins, with ties going to the host.
//
// Features:
// - Single websocket endpoint at /ws; every message carries its roomId
// - Rooms created lazily on first join, keyed by caller-supplied ID
// - First player to join a room is the host, the second the challenger
// - Reconnects keyed by userId refresh the connection and keep the score
// - One run loop per room, so each message is applied run-to-completion
// - Question payloads are relayed verbatim, never validated server-side
// - isCorrect and nextTurn are applied as asserted by the acting client
// - Rooms are kept forever by default; --session-timeout enables a reaper
// - Random 8-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"crypto/rand"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Player holds the data we store server-side. The connection reference is
// ephemeral and replaced on every reconnect; UserID is the stable identity.
type Player struct {
	UserID   string
	Username string
	Score    int

	client *Client
}

// Messages coming from clients
type ClientMessage struct {
	Type          string   `json:"type"` // "joinRoom", "cellClick", "questionFetched", "submitAnswer", "restartGame"
	RoomID        string   `json:"roomId,omitempty"`
	UserID        string   `json:"userId,omitempty"`        // joinRoom
	Username      string   `json:"username,omitempty"`      // joinRoom
	Index         *int     `json:"index,omitempty"`         // cellClick
	CellIndex     *int     `json:"cellIndex,omitempty"`     // submitAnswer
	IsCorrect     *bool    `json:"isCorrect,omitempty"`     // submitAnswer
	PlayerID      string   `json:"playerId,omitempty"`      // submitAnswer
	NextTurn      string   `json:"nextTurn,omitempty"`      // submitAnswer
	Question      string   `json:"question,omitempty"`      // questionFetched
	Options       []string `json:"options,omitempty"`       // questionFetched
	CorrectAnswer string   `json:"correctAnswer,omitempty"` // questionFetched
}

// Messages sent to clients

type PlayerSnapshot struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// RoomStateMessage carries the full roster/turn/grid snapshot. It is sent as
// "gameStarted" when a match begins (or a room resets) and as "updatePlayers"
// when reconnecting clients need to resynchronize.
type RoomStateMessage struct {
	Type          string           `json:"type"`
	Players       []PlayerSnapshot `json:"players"`
	CurrentTurn   string           `json:"currentTurn,omitempty"`
	CellOwnership []string         `json:"cellOwnership"`
}

type PlayerJoinedMessage struct {
	Type     string `json:"type"` // "playerJoined"
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type PlayerLeftMessage struct {
	Type     string `json:"type"` // "playerLeft"
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type CellClickMessage struct {
	Type        string `json:"type"` // "cellClick"
	Index       int    `json:"index"`
	CurrentTurn string `json:"currentTurn"`
	Seconds     int    `json:"seconds"`
}

type UpdateOwnershipMessage struct {
	Type      string `json:"type"` // "updateOwnership"
	CellIndex int    `json:"cellIndex"`
	Owner     string `json:"owner"`
}

type UpdateTurnMessage struct {
	Type        string `json:"type"` // "updateTurn"
	CurrentTurn string `json:"currentTurn"`
}

// QuestionMessage relays a question fetched by one client to the whole room,
// correct answer included. The server never validates or generates it.
type QuestionMessage struct {
	Type          string   `json:"type"` // "questionFetched"
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	CurrentTurn   string   `json:"currentTurn,omitempty"`
}

type GameOverMessage struct {
	Type        string           `json:"type"` // "gameOver"
	Winner      string           `json:"winner"`
	FinalScores []PlayerSnapshot `json:"finalScores"`
	Message     string           `json:"message"`
}

type GameEndedMessage struct {
	Type    string `json:"type"` // "gameEnded"
	Message string `json:"message"`
}

// Sent only to the requesting connection, never broadcast.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// Client wraps one websocket connection. A client can sit in more than one
// room's client set, so closing the send channel goes through closeSend and
// deliveries check the closed flag first.
type Client struct {
	conn *websocket.Conn
	send chan any

	mu     sync.Mutex
	closed bool
}

// deliver queues msg for the client without blocking. It reports false when
// the client is closed or its send buffer is full.
func (c *Client) deliver(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type joinRequest struct {
	client *Client
	msg    ClientMessage
}

type clickRequest struct {
	client *Client
	index  int
}

type questionRequest struct {
	question      string
	options       []string
	correctAnswer string
}

type answerRequest struct {
	client    *Client
	playerID  string
	cellIndex int
	isCorrect bool
	nextTurn  string
}

// Room is the authoritative per-match state. players preserves insertion
// order: players[0] is the host, players[1] the challenger.
type Room struct {
	id      string
	clients map[*Client]bool
	players []*Player

	currentTurn string
	active      bool
	finished    bool
	usedCells   map[int]struct{}
	ownership   []string

	joins     chan joinRequest
	clicks    chan clickRequest
	questions chan questionRequest
	answers   chan answerRequest
	restarts  chan struct{}
	done      chan struct{}

	mu sync.RWMutex

	lastActive time.Time
}

func newRoom(roomID string) *Room {
	return &Room{
		id:         roomID,
		clients:    make(map[*Client]bool),
		usedCells:  make(map[int]struct{}),
		ownership:  emptyOwnership(),
		joins:      make(chan joinRequest),
		clicks:     make(chan clickRequest),
		questions:  make(chan questionRequest),
		answers:    make(chan answerRequest),
		restarts:   make(chan struct{}),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

// run serializes all gameplay mutations for this room. Each request is
// handled to completion before the next one is received.
func (r *Room) run(cfg *Config) {
	for {
		select {
		case jr := <-r.joins:
			r.handleJoin(cfg, jr)

		case cr := <-r.clicks:
			r.handleCellClick(cfg, cr)

		case qr := <-r.questions:
			r.handleQuestion(qr)

		case ar := <-r.answers:
			r.handleSubmitAnswer(cfg, ar)

		case <-r.restarts:
			r.handleRestart(cfg)

		case <-r.done:
			return
		}
	}
}

func (r *Room) playerByIDLocked(userID string) *Player {
	for _, p := range r.players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) playerByClientLocked(c *Client) *Player {
	for _, p := range r.players {
		if p.client == c {
			return p
		}
	}
	return nil
}

func (r *Room) opponentLocked(p *Player) *Player {
	for _, other := range r.players {
		if other.UserID != p.UserID {
			return other
		}
	}
	return nil
}

func (r *Room) snapshotLocked() []PlayerSnapshot {
	players := make([]PlayerSnapshot, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, PlayerSnapshot{
			UserID:   p.UserID,
			Username: p.Username,
			Score:    p.Score,
		})
	}
	return players
}

func (r *Room) stateMessageLocked(msgType string) RoomStateMessage {
	return RoomStateMessage{
		Type:          msgType,
		Players:       r.snapshotLocked(),
		CurrentTurn:   r.currentTurn,
		CellOwnership: append([]string(nil), r.ownership...),
	}
}

func (r *Room) broadcastLocked(msg any) {
	for client := range r.clients {
		if !client.deliver(msg) {
			delete(r.clients, client)
			client.closeSend()
		}
	}
}

func (r *Room) broadcastOthersLocked(msg any, except *Client) {
	for client := range r.clients {
		if client == except {
			continue
		}
		if !client.deliver(msg) {
			delete(r.clients, client)
			client.closeSend()
		}
	}
}

// handleJoin processes "joinRoom" messages. A match starts only when this
// join fills the roster for the first time since the last reset; reconnects
// into a running or finished match get a resync snapshot instead.
func (r *Room) handleJoin(cfg *Config, jr joinRequest) {
	c := jr.client
	msg := jr.msg

	if msg.UserID == "" || msg.Username == "" {
		c.deliver(ErrorMessage{Type: "error", Message: "Authentication required"})
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	existing := r.playerByIDLocked(msg.UserID)
	if existing == nil {
		if r.active {
			c.deliver(ErrorMessage{Type: "error", Message: "Game is already in progress."})
			return
		}
		if len(r.players) >= maxPlayers {
			c.deliver(ErrorMessage{Type: "error", Message: "Room is full."})
			return
		}
	}

	r.clients[c] = true

	if existing != nil {
		existing.Username = msg.Username
		existing.client = c
	} else {
		r.players = append(r.players, &Player{
			UserID:   msg.UserID,
			Username: msg.Username,
			client:   c,
		})
		logf(cfg, "ROOMS: Player %q joined %s", msg.Username, r.id)
	}

	r.broadcastOthersLocked(PlayerJoinedMessage{
		Type:     "playerJoined",
		UserID:   msg.UserID,
		Username: msg.Username,
	}, c)

	if len(r.players) == maxPlayers {
		if existing == nil && !r.active && !r.finished {
			r.active = true
			r.currentTurn = r.players[0].UserID
			r.broadcastLocked(r.stateMessageLocked("gameStarted"))
			logf(cfg, "ROOMS: Game started in %s", r.id)
		} else {
			r.broadcastLocked(r.stateMessageLocked("updatePlayers"))
		}
	}
}

// handleCellClick processes a turn holder selecting a cell. Clicks from
// anyone else, or against an inactive room, are dropped without a response.
func (r *Room) handleCellClick(cfg *Config, cr clickRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if !r.active {
		return
	}

	p := r.playerByClientLocked(cr.client)
	if p == nil || p.UserID != r.currentTurn {
		return
	}

	r.usedCells[cr.index] = struct{}{}

	r.broadcastLocked(CellClickMessage{
		Type:        "cellClick",
		Index:       cr.index,
		CurrentTurn: r.currentTurn,
		Seconds:     questionSeconds(cr.index),
	})
	logf(cfg, "ROOMS: Cell %d selected in %s", cr.index, r.id)
}

// handleQuestion rebroadcasts a question fetched by one client to the whole
// room, correct answer and all.
func (r *Room) handleQuestion(qr questionRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	r.broadcastLocked(QuestionMessage{
		Type:          "questionFetched",
		Question:      qr.question,
		Options:       qr.options,
		CorrectAnswer: qr.correctAnswer,
		CurrentTurn:   r.currentTurn,
	})
}

// handleSubmitAnswer applies the scoring transition. The only check is that
// the submitting connection currently belongs to playerID; isCorrect and
// nextTurn are applied exactly as the client asserts them.
func (r *Room) handleSubmitAnswer(cfg *Config, ar answerRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if !r.active {
		return
	}

	p := r.playerByIDLocked(ar.playerID)
	if p == nil || p.client != ar.client {
		return
	}

	actorIsHost := r.players[0].UserID == p.UserID
	owner := ownerFor(actorIsHost, ar.isCorrect)
	r.ownership[ar.cellIndex] = owner

	if ar.isCorrect {
		p.Score++
	} else if opponent := r.opponentLocked(p); opponent != nil {
		opponent.Score++
	}

	r.broadcastLocked(UpdateOwnershipMessage{
		Type:      "updateOwnership",
		CellIndex: ar.cellIndex,
		Owner:     owner,
	})
	r.broadcastLocked(r.stateMessageLocked("updatePlayers"))

	r.currentTurn = ar.nextTurn
	r.broadcastLocked(UpdateTurnMessage{
		Type:        "updateTurn",
		CurrentTurn: r.currentTurn,
	})

	r.checkWinLocked(cfg)
}

// checkWinLocked runs once per completed answer. Checks run in fixed
// priority order and the first match decides the outcome.
func (r *Room) checkWinLocked(cfg *Config) {
	finalScores := r.snapshotLocked()

	for _, p := range r.players {
		if p.Score >= winningScore {
			r.endGameLocked(cfg, p.UserID, finalScores,
				fmt.Sprintf("Game over in room %s. %s won by reaching %d points!", r.id, p.Username, winningScore))
			return
		}
	}

	if owner, ok := patternWinner(r.ownership); ok {
		winner := r.players[0]
		if owner == ownerChallenger {
			winner = r.players[1]
		}
		r.endGameLocked(cfg, winner.UserID, finalScores,
			fmt.Sprintf("Game over in room %s. Winner: %s", r.id, winner.Username))
		return
	}

	if len(r.usedCells) == gridCells {
		// Ties go to the host.
		winner := r.players[0]
		if len(r.players) > 1 && r.players[1].Score > winner.Score {
			winner = r.players[1]
		}
		r.endGameLocked(cfg, winner.UserID, finalScores,
			fmt.Sprintf("Game over in room %s. Grid full. Winner: %s", r.id, winner.Username))
	}
}

func (r *Room) endGameLocked(cfg *Config, winnerID string, finalScores []PlayerSnapshot, message string) {
	r.active = false
	r.finished = true

	r.broadcastLocked(GameOverMessage{
		Type:        "gameOver",
		Winner:      winnerID,
		FinalScores: finalScores,
		Message:     message,
	})
	logf(cfg, "ROOMS: %s", message)
}

// handleRestart resets the room in place so the same room ID can host a new
// match. Restarting an active room is a no-op.
func (r *Room) handleRestart(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if r.active {
		return
	}

	r.players = nil
	r.usedCells = make(map[int]struct{})
	r.ownership = emptyOwnership()
	r.currentTurn = ""
	r.finished = false

	r.broadcastLocked(r.stateMessageLocked("gameStarted"))
	logf(cfg, "ROOMS: Room %s restarted", r.id)
}

// dropClient removes a closed connection from this room. If the connection
// backed a roster entry, the player leaves and an active match ends.
func (r *Room) dropClient(cfg *Config, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}
	delete(r.clients, c)

	r.lastActive = time.Now()

	for i, p := range r.players {
		if p.client != c {
			continue
		}

		r.players = append(r.players[:i], r.players[i+1:]...)

		r.broadcastLocked(PlayerLeftMessage{
			Type:     "playerLeft",
			UserID:   p.UserID,
			Username: p.Username,
		})
		logf(cfg, "ROOMS: Player %q left %s", p.Username, r.id)

		if len(r.players) < maxPlayers && r.active {
			r.active = false
			r.broadcastLocked(GameEndedMessage{
				Type:    "gameEnded",
				Message: "Game ended due to player disconnection",
			})
		}

		break
	}
}

// closeAll stops the run loop and disconnects all clients of this room
// (used by the reaper).
func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	close(r.done)

	for c := range r.clients {
		c.closeSend()
		_ = c.conn.Close()
		delete(r.clients, c)
	}
}

const maxPlayers = 2

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GameManager holds the set of rooms keyed by room ID. Rooms are created
// lazily on first join and, unless a session timeout is configured, live
// until the process exits.
type GameManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	idleTimeout time.Duration
}

func newGameManager(idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		rooms:       make(map[string]*Room),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getRoom(cfg *Config, roomID string) *Room {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if room, ok := gm.rooms[roomID]; ok {
		return room
	}

	room := newRoom(roomID)
	gm.rooms[roomID] = room
	go room.run(cfg)
	logf(cfg, "ROOMS: Created room %s", roomID)
	return room
}

func (gm *GameManager) lookupRoom(roomID string) *Room {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	return gm.rooms[roomID]
}

// dropClient scans every room for the closed connection, per the disconnect
// protocol. Room mutations happen under each room's own lock.
func (gm *GameManager) dropClient(cfg *Config, c *Client) {
	gm.mu.Lock()
	rooms := make([]*Room, 0, len(gm.rooms))
	for _, room := range gm.rooms {
		rooms = append(rooms, room)
	}
	gm.mu.Unlock()

	for _, room := range rooms {
		room.dropClient(cfg, c)
	}
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (gm *GameManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.rooms[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than
// idleTimeout. Only runs when a session timeout is configured.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, room := range gm.rooms {
			room.mu.RLock()
			last := room.lastActive
			room.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.rooms, id)
				go room.closeAll()
			}
		}
		gm.mu.Unlock()
	}
}

// serveWS upgrades the connection and pumps messages until it closes. Room
// resolution is per message, via the roomId field.
func serveWS(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
		}

		go client.writePump()
		client.readPump(cfg, gm)
	}
}

// readPump parses and validates inbound messages, then dispatches them to
// the room named in the payload. Malformed messages are dropped here, before
// any room logic runs.
func (c *Client) readPump(cfg *Config, gm *GameManager) {
	defer func() {
		gm.dropClient(cfg, c)
		c.closeSend()
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.RoomID == "" {
			continue
		}

		switch msg.Type {
		case "joinRoom":
			room := gm.getRoom(cfg, msg.RoomID)
			room.joins <- joinRequest{
				client: c,
				msg:    msg,
			}
		case "cellClick":
			if msg.Index == nil || *msg.Index < 0 || *msg.Index >= gridCells {
				continue
			}
			if room := gm.lookupRoom(msg.RoomID); room != nil {
				room.clicks <- clickRequest{
					client: c,
					index:  *msg.Index,
				}
			}
		case "questionFetched":
			if room := gm.lookupRoom(msg.RoomID); room != nil {
				room.questions <- questionRequest{
					question:      msg.Question,
					options:       msg.Options,
					correctAnswer: msg.CorrectAnswer,
				}
			}
		case "submitAnswer":
			if msg.CellIndex == nil || *msg.CellIndex < 0 || *msg.CellIndex >= gridCells ||
				msg.IsCorrect == nil || msg.PlayerID == "" {
				continue
			}
			if room := gm.lookupRoom(msg.RoomID); room != nil {
				room.answers <- answerRequest{
					client:    c,
					playerID:  msg.PlayerID,
					cellIndex: *msg.CellIndex,
					isCorrect: *msg.IsCorrect,
					nextTurn:  msg.NextTurn,
				}
			}
		case "restartGame":
			if room := gm.lookupRoom(msg.RoomID); room != nil {
				room.restarts <- struct{}{}
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewRoom handles GET /path by generating a new random room ID
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := gm.newRoomID()
		logf(cfg, "ROOMS: Created room link %s/%s", path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerQuizGame sets up routes so that:
//   - $path              → redirects to a new random room (8-char ID)
//   - $path/:roomid      → HTML client
//   - $path/:roomid/qr   → PNG QR code for that room URL
//   - /ws                → shared WebSocket endpoint for all rooms
func registerQuizGame(cfg *Config, path string, mux *httprouter.Router) {
	gm := newGameManager(cfg.sessionTimeout)

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, gm))

	// Per-room client view
	mux.GET(cfg.prefix+path+"/:roomid", quizPageHandler)

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)

	// Shared websocket; messages carry their room ID
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, gm))
}
