package server

import "encoding/json"

// Inbound frames are flat JSON objects with a "type" discriminator. The
// envelope is decoded first; the per-type payload is decoded from the same
// bytes by the handler that knows which fields it needs.
type ClientMessage struct {
	Type string `json:"type"`
}

// Payload fields are pointers so a missing field can be told apart from a
// zero value and reported as MISSING_REQUIRED_FIELDS.
type StartGamePayload struct {
	InitialCards *int `json:"initialCards"`
}

type PlayCardPayload struct {
	CardValue *int    `json:"cardValue"`
	Position  *string `json:"position"`
	RoomID    *string `json:"roomId"`
}

type UndoMovePayload struct {
	CardValue *int    `json:"cardValue"`
	Position  *string `json:"position"`
}

type UpdatePlayerPayload struct {
	Name string `json:"name"`
}

type SelfBlockedPayload struct {
	Reason string `json:"reason"`
}

func decodePayload(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
