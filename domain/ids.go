package domain

import "github.com/google/uuid"

// AssignIDs fills in missing column, card and checklist ids and replaces nil
// slices with empty ones. The input is modified in place and returned.
func AssignIDs(columns []Column) []Column {
	if columns == nil {
		return []Column{}
	}
	for i := range columns {
		col := &columns[i]
		if col.ID == "" {
			col.ID = uuid.NewString()
		}
		if col.Cards == nil {
			col.Cards = []Card{}
		}
		for j := range col.Cards {
			card := &col.Cards[j]
			if card.ID == "" {
				card.ID = uuid.NewString()
			}
			if card.Checklist == nil {
				card.Checklist = []ChecklistItem{}
			}
			for k := range card.Checklist {
				if card.Checklist[k].ID == "" {
					card.Checklist[k].ID = uuid.NewString()
				}
			}
		}
	}
	return columns
}

// NormalizeColumns replaces nil card and checklist slices with empty ones
// without assigning ids.
func NormalizeColumns(columns []Column) []Column {
	if columns == nil {
		return []Column{}
	}
	for i := range columns {
		if columns[i].Cards == nil {
			columns[i].Cards = []Card{}
		}
		for j := range columns[i].Cards {
			if columns[i].Cards[j].Checklist == nil {
				columns[i].Cards[j].Checklist = []ChecklistItem{}
			}
		}
	}
	return columns
}
