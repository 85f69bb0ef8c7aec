package game

// Move records one card placement so it can be undone within the turn.
type Move struct {
	Value         int      `json:"value"`
	Position      Position `json:"position"`
	PreviousValue int      `json:"previousValue"`
}

// TurnState tracks what a player has done since their turn began.
// Reset on turn start, never mid-turn.
type TurnState struct {
	Count int    `json:"count"`
	Moves []Move `json:"moves"`
}

func (ts *TurnState) Push(m Move) {
	ts.Moves = append(ts.Moves, m)
	ts.Count++
}

// Undo removes the first move matching (value, position) and returns it.
// The bool is false when no such move exists in the current turn's log.
func (ts *TurnState) Undo(value int, pos Position) (Move, bool) {
	for i, m := range ts.Moves {
		if m.Value == value && m.Position == pos {
			ts.Moves = append(ts.Moves[:i], ts.Moves[i+1:]...)
			if ts.Count > 0 {
				ts.Count--
			}
			return m, true
		}
	}
	return Move{}, false
}

func (ts *TurnState) Reset() {
	ts.Count = 0
	ts.Moves = nil
}
