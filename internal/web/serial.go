package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/config"
	"github.com/sweeney/course-board/internal/store"
)

type messageResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) handleGetSerial(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Inputs == nil {
		writeError(w, http.StatusServiceUnavailable, "input control unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Inputs.SerialSettings())
}

// handleUpdateSerial saves new serial wiring and restarts the serial
// backend if it is the one running. Fields missing from the body take
// their defaults, not their current values.
func (s *Server) handleUpdateSerial(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Inputs == nil {
		writeError(w, http.StatusServiceUnavailable, "input control unavailable")
		return
	}

	settings := store.DefaultSerialSettings()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "decode serial settings: "+err.Error())
		return
	}

	if err := s.cfg.Inputs.UpdateSerial(settings); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Errorf("web: update serial settings: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update serial settings")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{OK: true, Message: "Arduino configuration updated"})
}
