package domain

import "time"

// SignalType identifies one step of peer connection negotiation.
type SignalType string

const (
	SignalOffer      SignalType = "offer"
	SignalAnswer     SignalType = "answer"
	SignalCandidate  SignalType = "ice-candidate"
	SignalCallEnd    SignalType = "call-end"
	SignalCallReject SignalType = "call-reject"
)

// SignalRecord is one immutable row of the append-only signaling table.
// Records are inserted through the data store and delivered to the addressed
// user through the relay channel; they are never updated or deleted.
type SignalRecord struct {
	ID        string        `json:"id,omitempty"`
	FromUser  string        `json:"from_user"`
	ToUser    string        `json:"to_user"`
	Type      SignalType    `json:"type"`
	Payload   SignalPayload `json:"payload"`
	CreatedAt *time.Time    `json:"created_at,omitempty"`
}

// SignalPayload is a tagged union: offer/answer carry SDP, ice-candidate
// carries Candidate, call-end and call-reject carry neither.
type SignalPayload struct {
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
}

// SessionDescription is the JSON structure for SDP offer/answer payloads.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the JSON structure for trickled ICE candidate payloads.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// SignalChannel is the relay channel carrying signaling rows addressed to userID.
func SignalChannel(userID string) string {
	return "signaling:" + userID
}

// MessageChannel is the relay channel carrying message rows for a conversation.
func MessageChannel(conversationID string) string {
	return "messages:" + conversationID
}

// NotificationChannel is the relay channel carrying notification rows for userID.
func NotificationChannel(userID string) string {
	return "notifs:" + userID
}
