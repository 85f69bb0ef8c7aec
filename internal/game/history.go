package game

// History keeps an append-only log of distinct values placed on each
// board position, seeded with the position's starting value. Shown to
// players as a per-column audit trail.
type History struct {
	Ascending1  []int `json:"ascending1"`
	Ascending2  []int `json:"ascending2"`
	Descending1 []int `json:"descending1"`
	Descending2 []int `json:"descending2"`
}

func NewHistory() *History {
	return &History{
		Ascending1:  []int{1},
		Ascending2:  []int{1},
		Descending1: []int{100},
		Descending2: []int{100},
	}
}

func (h *History) column(pos Position) *[]int {
	switch pos {
	case Asc1:
		return &h.Ascending1
	case Asc2:
		return &h.Ascending2
	case Desc1:
		return &h.Descending1
	default:
		return &h.Descending2
	}
}

// Column returns the log for one position.
func (h *History) Column(pos Position) []int {
	return *h.column(pos)
}

// Record appends value to the position's log unless it equals the last
// entry (a retry must not duplicate history). Returns true if appended.
func (h *History) Record(pos Position, value int) bool {
	col := h.column(pos)
	if n := len(*col); n > 0 && (*col)[n-1] == value {
		return false
	}
	*col = append(*col, value)
	return true
}
