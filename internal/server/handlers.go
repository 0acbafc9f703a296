package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/internal/models"
)

// recordRequest is the classification intake payload
type recordRequest struct {
	Origin      string `json:"origin"`
	ThreatType  string `json:"threatType"`
	ActionTaken string `json:"actionTaken"`
}

// recordHandler accepts one classified verdict from a detector
func (s *HTTPServer) recordHandler(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Origin == "" {
		s.writeError(w, http.StatusBadRequest, "Origin is required", nil)
		return
	}

	// banned origins are refused before the core sees them
	if s.guard.IsBanned(req.Origin) {
		s.writeError(w, http.StatusServiceUnavailable, "Origin is banned", nil)
		return
	}

	result, err := s.recorder.Record(r.Context(), req.Origin, req.ThreatType, req.ActionTaken)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	if !result.Recorded {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"recorded": false,
			"message":  "benign verdict acknowledged",
		})
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"recorded":    true,
		"sequence":    result.Event.Sequence,
		"ledger":      result.Event.LedgerAddress,
		"txRef":       result.Event.TxRef,
		"chainStatus": result.Event.ChainStatus,
	})
}

// verifyRequest is the verification payload
type verifyRequest struct {
	Ledger      string `json:"ledger"`
	IPAddress   string `json:"ipAddress"`
	ThreatType  string `json:"threatType"`
	ActionTaken string `json:"actionTaken"`
}

// verifyHandler checks a displayed event against the external store
func (s *HTTPServer) verifyHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := s.verifier.Verify(r.Context(), req.Ledger, req.IPAddress, req.ThreatType, req.ActionTaken)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"verified": result.Verified,
		"proof":    result.Proof,
		"message":  result.Message,
	})
}

// createLedgerRequest creates a ledger, either for an origin through the
// registry or at the address derived from an explicit seed.
type createLedgerRequest struct {
	Origin string `json:"origin,omitempty"`
	Seed   string `json:"seed,omitempty"`
}

func (s *HTTPServer) createLedgerHandler(w http.ResponseWriter, r *http.Request) {
	var req createLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Seed != "" {
		seed, err := strconv.ParseUint(req.Seed, 10, 16)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Seed must be an integer in [0, 65535]", err)
			return
		}
		address, txRef, err := s.store.CreateLedger(r.Context(), uint16(seed))
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"address": address,
			"txRef":   txRef,
		})
		return
	}

	ledger, err := s.registry.GetOrCreate(r.Context(), req.Origin)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, ledger)
}

// listLedgersHandler returns all known ledger mappings
func (s *HTTPServer) listLedgersHandler(w http.ResponseWriter, r *http.Request) {
	ledgers := s.registry.Ledgers()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ledgers": ledgers,
		"count":   len(ledgers),
	})
}

// listEventsHandler returns persisted event history
func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Event history is not enabled", nil)
		return
	}

	filter := models.EventFilter{Limit: 100}

	query := r.URL.Query()
	if origin := query.Get("origin"); origin != "" {
		filter.Origin = &origin
	}
	if threat := query.Get("threatType"); threat != "" {
		parsed, err := models.ParseThreatType(threat)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid threat type", err)
			return
		}
		filter.ThreatType = &parsed
	}
	if ledger := query.Get("ledger"); ledger != "" {
		filter.LedgerAddress = &ledger
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve events", err)
		return
	}
	total, err := s.storage.GetEventCount(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count events", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// verify the derived ledger address for a seed without creating anything,
// used by operators to cross-check addresses against the on-chain program
func (s *HTTPServer) deriveHandler(w http.ResponseWriter, r *http.Request) {
	seedStr := r.URL.Query().Get("seed")
	seed, err := strconv.ParseUint(seedStr, 10, 16)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Seed must be a uint16", err)
		return
	}

	address, err := chain.DeriveLedgerAddress(uint16(seed))
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"seed":    seed,
		"address": address,
	})
}
