package game

// MoveCheck is the result of validating a single card against a stack.
type MoveCheck struct {
	Valid       bool
	TargetValue int  // stack top the card was checked against
	JumpBack    bool // the exact ±10 exception was used
}

// CheckMove reports whether cardValue may be placed on the given stack.
// Ascending stacks accept any higher card, or exactly top-10; descending
// stacks accept any lower card, or exactly top+10.
func CheckMove(cardValue int, pos Position, b Board) MoveCheck {
	target := b.Top(pos)
	if pos.IsAscending() {
		return MoveCheck{
			Valid:       cardValue > target || cardValue == target-10,
			TargetValue: target,
			JumpBack:    cardValue == target-10,
		}
	}
	return MoveCheck{
		Valid:       cardValue < target || cardValue == target+10,
		TargetValue: target,
		JumpBack:    cardValue == target+10,
	}
}

// PlayableCards filters a hand down to cards that fit at least one of the
// four stacks.
func PlayableCards(hand []int, b Board) []int {
	if len(hand) == 0 {
		return nil
	}
	playable := make([]int, 0, len(hand))
	for _, card := range hand {
		for _, pos := range Positions {
			if CheckMove(card, pos, b).Valid {
				playable = append(playable, card)
				break
			}
		}
	}
	return playable
}

// AnyPlayable reports whether at least one of the given hands holds a
// playable card.
func AnyPlayable(hands [][]int, b Board) bool {
	for _, hand := range hands {
		if len(PlayableCards(hand, b)) > 0 {
			return true
		}
	}
	return false
}

// MinCardsRequired is the per-turn minimum: 2 while the draw pile has
// cards, 1 once it is exhausted.
func MinCardsRequired(deckSize int) int {
	if deckSize > 0 {
		return 2
	}
	return 1
}
