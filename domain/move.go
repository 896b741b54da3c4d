package domain

import "fmt"

// MoveCard removes cardID from sourceColumnID and inserts it into
// destColumnID at newPosition. Position fields are left untouched.
// A negative position inserts at the front and a position past the end appends.
// The input is not modified; on error no copy is returned.
func MoveCard(columns []Column, cardID, sourceColumnID, destColumnID string, newPosition int) ([]Column, error) {
	src, ok := columnIndex(columns, sourceColumnID)
	if !ok {
		return nil, fmt.Errorf("source column %s: %w", sourceColumnID, ErrColumnNotFound)
	}
	idx, ok := cardIndex(columns[src].Cards, cardID)
	if !ok {
		return nil, fmt.Errorf("card %s in column %s: %w", cardID, sourceColumnID, ErrCardNotFound)
	}
	dst, ok := columnIndex(columns, destColumnID)
	if !ok {
		return nil, fmt.Errorf("destination column %s: %w", destColumnID, ErrColumnNotFound)
	}

	out := CloneColumns(columns)
	card := out[src].Cards[idx]
	out[src].Cards = append(out[src].Cards[:idx], out[src].Cards[idx+1:]...)

	cards := out[dst].Cards
	pos := ClampPosition(newPosition, len(cards))
	cards = append(cards, Card{})
	copy(cards[pos+1:], cards[pos:])
	cards[pos] = card
	out[dst].Cards = cards
	return out, nil
}

// ClampPosition bounds pos to [0, length].
func ClampPosition(pos, length int) int {
	if pos < 0 {
		return 0
	}
	if pos > length {
		return length
	}
	return pos
}
