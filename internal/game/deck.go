package game

import "math/rand"

// DeckSize is the number of cards in a fresh draw pile (values 2..99;
// 1 and 100 are the board's starting values and never enter the deck).
const DeckSize = 98

// NewDeck returns a shuffled draw pile. Cards are popped from the end.
func NewDeck() []int {
	deck := make([]int, 0, DeckSize)
	for v := 2; v < 100; v++ {
		deck = append(deck, v)
	}
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}
