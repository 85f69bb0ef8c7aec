package game

// Position identifies one of the four board stacks.
type Position string

const (
	Asc1  Position = "asc1"
	Asc2  Position = "asc2"
	Desc1 Position = "desc1"
	Desc2 Position = "desc2"
)

var Positions = []Position{Asc1, Asc2, Desc1, Desc2}

// ParsePosition validates a client-supplied position string.
func ParsePosition(s string) (Position, bool) {
	switch Position(s) {
	case Asc1, Asc2, Desc1, Desc2:
		return Position(s), true
	}
	return "", false
}

func (p Position) IsAscending() bool {
	return p == Asc1 || p == Asc2
}

func (p Position) index() int {
	if p == Asc1 || p == Desc1 {
		return 0
	}
	return 1
}

// Board holds the four stacks: two ascending starting at 1, two
// descending starting at 100. Only the top value of each stack matters.
type Board struct {
	Ascending  [2]int `json:"ascending"`
	Descending [2]int `json:"descending"`
}

func NewBoard() Board {
	return Board{
		Ascending:  [2]int{1, 1},
		Descending: [2]int{100, 100},
	}
}

// Top returns the current top value of a stack.
func (b Board) Top(p Position) int {
	if p.IsAscending() {
		return b.Ascending[p.index()]
	}
	return b.Descending[p.index()]
}

// Set replaces the top value of a stack.
func (b *Board) Set(p Position, value int) {
	if p.IsAscending() {
		b.Ascending[p.index()] = value
	} else {
		b.Descending[p.index()] = value
	}
}
