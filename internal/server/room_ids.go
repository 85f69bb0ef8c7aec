package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
)

var ErrIDSpaceExhausted = errors.New("ID_SPACE_EXHAUSTED: could not find a free room id")

var roomIDPattern = regexp.MustCompile(`^\d{4}$`)

// ValidateRoomID accepts exactly four decimal digits.
func ValidateRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

const roomIDAttempts = 10

// GenerateRoomID draws random 4-digit ids until exists reports a free one.
// The id space is only 10k wide, so after a bounded number of collisions we
// give up rather than spin.
func GenerateRoomID(ctx context.Context, exists func(ctx context.Context, id string) (bool, error)) (string, error) {
	for i := 0; i < roomIDAttempts; i++ {
		id := fmt.Sprintf("%04d", rand.Intn(10000))
		taken, err := exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrIDSpaceExhausted
}
