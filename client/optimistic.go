package client

import (
	"fmt"

	"github.com/afom12/Taskflow/domain"
)

// ApplyMove returns board with mv applied using the same splice as the
// server. The input board is not modified.
func ApplyMove(board domain.Board, mv domain.CardMove) (domain.Board, error) {
	columns, err := domain.MoveCard(board.Columns, mv.CardID, mv.SourceColumnID, mv.DestColumnID, mv.NewPosition)
	if err != nil {
		return domain.Board{}, err
	}
	next := board.Clone()
	next.Columns = columns
	return next, nil
}

// AddColumn appends an empty column. Its id is assigned by the server.
func AddColumn(columns []domain.Column, title string) []domain.Column {
	out := domain.CloneColumns(columns)
	return append(out, domain.Column{Title: title, Position: len(out), Cards: []domain.Card{}})
}

// AddCard appends a card to the column.
func AddCard(columns []domain.Column, columnID, title, description string) ([]domain.Column, error) {
	out := domain.CloneColumns(columns)
	i, ok := indexOfColumn(out, columnID)
	if !ok {
		return nil, fmt.Errorf("add card to %s: %w", columnID, domain.ErrColumnNotFound)
	}
	out[i].Cards = append(out[i].Cards, domain.Card{
		Title:       title,
		Description: description,
		Position:    len(out[i].Cards),
		Checklist:   []domain.ChecklistItem{},
	})
	return out, nil
}

// EditCard applies edit to a copy of the card.
func EditCard(columns []domain.Column, cardID string, edit func(*domain.Card)) ([]domain.Column, error) {
	out := domain.CloneColumns(columns)
	col, idx, ok := locateCard(out, cardID)
	if !ok {
		return nil, fmt.Errorf("edit card %s: %w", cardID, domain.ErrCardNotFound)
	}
	edit(&out[col].Cards[idx])
	return out, nil
}

// AddChecklistItem appends an unchecked item to the card's checklist.
func AddChecklistItem(columns []domain.Column, cardID, text string) ([]domain.Column, error) {
	return EditCard(columns, cardID, func(c *domain.Card) {
		c.Checklist = append(c.Checklist, domain.ChecklistItem{Text: text})
	})
}

// ToggleChecklistItem flips the completed flag of one item. Unknown items are
// left alone.
func ToggleChecklistItem(columns []domain.Column, cardID, itemID string) ([]domain.Column, error) {
	return EditCard(columns, cardID, func(c *domain.Card) {
		for i := range c.Checklist {
			if c.Checklist[i].ID == itemID {
				c.Checklist[i].Completed = !c.Checklist[i].Completed
			}
		}
	})
}

func indexOfColumn(columns []domain.Column, columnID string) (int, bool) {
	for i, c := range columns {
		if c.ID == columnID {
			return i, true
		}
	}
	return -1, false
}
