package domain

import (
	"slices"
	"time"
)

// ChecklistItem is a single checkable line inside a card.
type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text" validate:"required"`
	Completed bool   `json:"completed"`
}

// Card is an item inside a column.
type Card struct {
	ID          string          `json:"id"`
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	Position    int             `json:"position"`
	Checklist   []ChecklistItem `json:"checklist" validate:"dive"`
}

// Column is an ordered list of cards.
type Column struct {
	ID       string `json:"id"`
	Title    string `json:"title" validate:"required"`
	Position int    `json:"position"`
	Cards    []Card `json:"cards" validate:"dive"`
}

// Board is the aggregate persisted as a single document.
type Board struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	MemberIDs   []string  `json:"memberIds"`
	Columns     []Column  `json:"columns"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsOwner reports whether userID owns the board.
func (b Board) IsOwner(userID string) bool {
	return userID != "" && b.OwnerID == userID
}

// HasAccess reports whether userID is the owner or a member of the board.
func (b Board) HasAccess(userID string) bool {
	if userID == "" {
		return false
	}
	return b.OwnerID == userID || slices.Contains(b.MemberIDs, userID)
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (b Board) Clone() Board {
	out := b
	out.MemberIDs = slices.Clone(b.MemberIDs)
	out.Columns = CloneColumns(b.Columns)
	return out
}

// CloneColumns deep copies columns, their cards and checklists.
func CloneColumns(columns []Column) []Column {
	if columns == nil {
		return nil
	}
	out := make([]Column, len(columns))
	for i, col := range columns {
		out[i] = col
		if col.Cards != nil {
			out[i].Cards = make([]Card, len(col.Cards))
			for j, card := range col.Cards {
				out[i].Cards[j] = card
				out[i].Cards[j].Checklist = slices.Clone(card.Checklist)
			}
		}
	}
	return out
}

// ColumnIndex returns the index of the column with the given id.
func (b Board) ColumnIndex(columnID string) (int, bool) {
	return columnIndex(b.Columns, columnID)
}

func columnIndex(columns []Column, columnID string) (int, bool) {
	for i := range columns {
		if columns[i].ID == columnID {
			return i, true
		}
	}
	return -1, false
}

func cardIndex(cards []Card, cardID string) (int, bool) {
	for i := range cards {
		if cards[i].ID == cardID {
			return i, true
		}
	}
	return -1, false
}

// Member is a user reference with a resolved display name.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BoardView is the board as sent to clients, with owner and members expanded.
type BoardView struct {
	Board
	Owner   Member   `json:"owner"`
	Members []Member `json:"members"`
}

// Identity is the verified caller bound to a connection or request.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// NewBoard builds a board owned by ownerID with the default column layout.
func NewBoard(id, ownerID, title, description string, now time.Time) Board {
	if title == "" {
		title = DefaultBoardTitle
	}
	columns := make([]Column, len(DefaultColumnTitles))
	for i, t := range DefaultColumnTitles {
		columns[i] = Column{Title: t, Position: i, Cards: []Card{}}
	}
	return Board{
		ID:          id,
		Title:       title,
		Description: description,
		OwnerID:     ownerID,
		MemberIDs:   []string{},
		Columns:     AssignIDs(columns),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

const DefaultBoardTitle = "New Board"

var DefaultColumnTitles = []string{"To Do", "In Progress", "Done"}
