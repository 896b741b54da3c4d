// Package client holds the board-side logic of an interactive client: turning
// drag gestures into moves, applying edits locally when offline and
// reconciling with the authoritative board sent by the server.
package client

import "github.com/afom12/Taskflow/domain"

// ResolveDrop derives the move for a card dragged by activeID and released
// over overID, which is either a column or another card. ok is false when
// the gesture does not describe a move.
//
// Dropping on a column appends to it. Dropping on a card takes that card's
// current index in its column.
func ResolveDrop(board domain.Board, activeID, overID string) (mv domain.CardMove, ok bool) {
	if activeID == "" || overID == "" || activeID == overID {
		return domain.CardMove{}, false
	}
	source, _, found := locateCard(board.Columns, activeID)
	if !found {
		return domain.CardMove{}, false
	}

	mv = domain.CardMove{
		BoardID:        board.ID,
		CardID:         activeID,
		SourceColumnID: board.Columns[source].ID,
	}
	for _, col := range board.Columns {
		if col.ID == overID {
			mv.DestColumnID = col.ID
			mv.NewPosition = len(col.Cards)
			return mv, true
		}
	}
	if dest, idx, found := locateCard(board.Columns, overID); found {
		mv.DestColumnID = board.Columns[dest].ID
		mv.NewPosition = idx
		return mv, true
	}
	return domain.CardMove{}, false
}

func locateCard(columns []domain.Column, cardID string) (col, idx int, ok bool) {
	for i, c := range columns {
		for j, card := range c.Cards {
			if card.ID == cardID {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}
