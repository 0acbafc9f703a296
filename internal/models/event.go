package models

import (
	"strings"
	"time"

	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// ThreatType classifies a scored traffic flow
type ThreatType string

const (
	ThreatDOS    ThreatType = "DOS"
	ThreatProbe  ThreatType = "PROBE"
	ThreatR2L    ThreatType = "R2L"
	ThreatU2R    ThreatType = "U2R"
	ThreatBenign ThreatType = "BENIGN"
)

// ParseThreatType validates and normalizes a threat type string. Detectors
// label clean traffic inconsistently ("normal", "benign", "Benign Traffic"),
// so those all normalize to BENIGN.
func ParseThreatType(s string) (ThreatType, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	switch ThreatType(trimmed) {
	case ThreatDOS:
		return ThreatDOS, nil
	case ThreatProbe:
		return ThreatProbe, nil
	case ThreatR2L:
		return ThreatR2L, nil
	case ThreatU2R:
		return ThreatU2R, nil
	case ThreatBenign:
		return ThreatBenign, nil
	}
	switch trimmed {
	case "NORMAL", "BENIGN TRAFFIC":
		return ThreatBenign, nil
	}
	return "", utils.NewAppError(utils.ErrCodeValidation, "Unknown threat type", s)
}

// Action is the response taken against a classified flow
type Action string

const (
	ActionBlocked Action = "BLOCKED"
	ActionAlerted Action = "ALERTED"
	ActionAllowed Action = "ALLOWED"
	ActionLogged  Action = "LOGGED"
)

// ParseAction validates and normalizes an action string. An empty input
// defaults to LOGGED so partial intake payloads stay usable.
func ParseAction(s string) (Action, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == "" {
		return ActionLogged, nil
	}
	switch Action(trimmed) {
	case ActionBlocked:
		return ActionBlocked, nil
	case ActionAlerted:
		return ActionAlerted, nil
	case ActionAllowed:
		return ActionAllowed, nil
	case ActionLogged:
		return ActionLogged, nil
	}
	return "", utils.NewAppError(utils.ErrCodeValidation, "Unknown action", s)
}

// ChainStatus tracks how far an event got against the external store
type ChainStatus string

const (
	// ChainPending means the append was submitted but not confirmed; the
	// event is still broadcast so the dashboard is not starved.
	ChainPending ChainStatus = "pending"
	// ChainConfirmed means the append transaction committed.
	ChainConfirmed ChainStatus = "confirmed"
	// ChainVerified means a proof was obtained against the stored record.
	ChainVerified ChainStatus = "verified"
)

// ThreatEvent is one recorded security verdict. Immutable once the append
// succeeds; Proof is the only field written afterwards, at most once.
type ThreatEvent struct {
	ID            string      `json:"id" db:"id"`
	LedgerAddress string      `json:"ledger_address" db:"ledger_address"`
	Sequence      uint64      `json:"sequence" db:"sequence"`
	OriginIP      string      `json:"origin_ip" db:"origin_ip"`
	ThreatType    ThreatType  `json:"threat_type" db:"threat_type"`
	ActionTaken   Action      `json:"action_taken" db:"action_taken"`
	Timestamp     time.Time   `json:"timestamp" db:"timestamp"`
	TxRef         string      `json:"tx_ref,omitempty" db:"tx_ref"`
	ChainStatus   ChainStatus `json:"chain_status" db:"chain_status"`
	Proof         string      `json:"proof,omitempty" db:"proof"`
}

// StreamMessage is the wire format delivered to stream subscribers:
// one self-delimited JSON object per event.
type StreamMessage struct {
	Ledger      string `json:"ledger"`
	IPAddress   string `json:"ipAddress"`
	ThreatType  string `json:"threatType"`
	ActionTaken string `json:"actionTaken"`
}

// StreamMessageFor builds the outbound message for an event
func StreamMessageFor(event *ThreatEvent) StreamMessage {
	return StreamMessage{
		Ledger:      event.LedgerAddress,
		IPAddress:   event.OriginIP,
		ThreatType:  string(event.ThreatType),
		ActionTaken: string(event.ActionTaken),
	}
}

// EventFilter for querying persisted events
type EventFilter struct {
	Origin        *string     `json:"origin,omitempty"`
	ThreatType    *ThreatType `json:"threat_type,omitempty"`
	LedgerAddress *string     `json:"ledger_address,omitempty"`
	Limit         int         `json:"limit,omitempty"`
	Offset        int         `json:"offset,omitempty"`
}
