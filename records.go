package main

// Completed matches can be reported here by clients once a room reaches
// gameOver. The coordinator never calls this itself; it is a thin
// request/response boundary in front of whatever store a deployment wires
// in. The default store is in-memory and lives only as long as the process.

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

type MatchRecord struct {
	ID         string    `json:"gameId"`
	RoomID     string    `json:"roomId"`
	HostID     string    `json:"hostId"`
	GuestID    string    `json:"guestId,omitempty"`
	HostScore  int       `json:"hostScore"`
	GuestScore int       `json:"guestScore"`
	SavedAt    time.Time `json:"savedAt"`
}

// matchRecords is the seam a durable store would implement.
type matchRecords interface {
	save(rec MatchRecord) MatchRecord
	get(roomID string) (MatchRecord, bool)
}

type matchStore struct {
	mu     sync.Mutex
	byRoom map[string]MatchRecord
}

func newMatchStore() *matchStore {
	return &matchStore{
		byRoom: make(map[string]MatchRecord),
	}
}

func (s *matchStore) save(rec MatchRecord) MatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uuid.NewString()
	rec.SavedAt = time.Now()
	s.byRoom[rec.RoomID] = rec

	return rec
}

func (s *matchStore) get(roomID string) (MatchRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byRoom[roomID]
	return rec, ok
}

type saveMatchRequest struct {
	HostID     string `json:"hostId"`
	GuestID    string `json:"guestId"`
	HostScore  int    `json:"hostScore"`
	GuestScore int    `json:"guestScore"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func serveSaveMatch(cfg *Config, store matchRecords) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		var req saveMatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
			return
		}
		if roomID == "" || req.HostID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "roomId and hostId are required"})
			return
		}

		rec := store.save(MatchRecord{
			RoomID:     roomID,
			HostID:     req.HostID,
			GuestID:    req.GuestID,
			HostScore:  req.HostScore,
			GuestScore: req.GuestScore,
		})

		logf(cfg, "GAMES: Saved match %s for room %s (%d-%d)", rec.ID, roomID, rec.HostScore, rec.GuestScore)

		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Game saved",
			"gameId":  rec.ID,
		})
	}
}

func serveGetMatch(store matchRecords) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		rec, ok := store.get(ps.ByName("roomid"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Game not found"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]MatchRecord{"game": rec})
	}
}

func registerMatchRecords(cfg *Config, store matchRecords, mux *httprouter.Router) {
	mux.POST(cfg.prefix+"/api/save/:roomid", serveSaveMatch(cfg, store))
	mux.GET(cfg.prefix+"/api/game/:roomid", serveGetMatch(store))
}
