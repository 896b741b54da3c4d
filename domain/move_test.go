package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleColumns() []Column {
	return []Column{
		{ID: "A", Title: "A", Cards: []Card{{ID: "C", Title: "C"}, {ID: "D", Title: "D"}}},
		{ID: "B", Title: "B", Cards: []Card{{ID: "E", Title: "E"}}},
	}
}

func cardIDs(col Column) []string {
	ids := make([]string, 0, len(col.Cards))
	for _, c := range col.Cards {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestMoveCardAcrossColumns(t *testing.T) {
	in := sampleColumns()
	out, err := MoveCard(in, "C", "A", "B", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"D"}, cardIDs(out[0]))
	assert.Equal(t, []string{"E", "C"}, cardIDs(out[1]))
	assert.Equal(t, []string{"C", "D"}, cardIDs(in[0]), "input must not be modified")
}

func TestMoveCardWithinColumn(t *testing.T) {
	out, err := MoveCard(sampleColumns(), "C", "A", "A", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "C"}, cardIDs(out[0]))
}

func TestMoveCardClampsPosition(t *testing.T) {
	tests := []struct {
		name string
		pos  int
		want []string
	}{
		{name: "negative", pos: -3, want: []string{"C", "E"}},
		{name: "zero", pos: 0, want: []string{"C", "E"}},
		{name: "end", pos: 1, want: []string{"E", "C"}},
		{name: "pastEnd", pos: 42, want: []string{"E", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MoveCard(sampleColumns(), "C", "A", "B", tt.pos)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cardIDs(out[1]))
		})
	}
}

func TestMoveCardMissingElements(t *testing.T) {
	tests := []struct {
		name           string
		card, src, dst string
		want           error
	}{
		{name: "unknownCard", card: "Z", src: "A", dst: "B", want: ErrCardNotFound},
		{name: "cardInOtherColumn", card: "E", src: "A", dst: "B", want: ErrCardNotFound},
		{name: "unknownSource", card: "C", src: "Q", dst: "B", want: ErrColumnNotFound},
		{name: "unknownDestination", card: "C", src: "A", dst: "Q", want: ErrColumnNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MoveCard(sampleColumns(), tt.card, tt.src, tt.dst, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, IsNotFound(err))
			assert.Nil(t, out)
		})
	}
}

func TestAssignIDsFillsMissing(t *testing.T) {
	cols := AssignIDs([]Column{
		{ID: "keep", Title: "x", Cards: []Card{{Title: "new", Checklist: []ChecklistItem{{Text: "t"}}}}},
		{Title: "fresh"},
	})

	assert.Equal(t, "keep", cols[0].ID)
	assert.NotEmpty(t, cols[0].Cards[0].ID)
	assert.NotEmpty(t, cols[0].Cards[0].Checklist[0].ID)
	assert.NotEmpty(t, cols[1].ID)
	assert.NotNil(t, cols[1].Cards)
	assert.NotEqual(t, cols[0].Cards[0].ID, cols[1].ID)
	assert.NotNil(t, AssignIDs(nil))
}

func TestBoardAccess(t *testing.T) {
	b := Board{OwnerID: "owner", MemberIDs: []string{"m1"}}
	assert.True(t, b.HasAccess("owner"))
	assert.True(t, b.HasAccess("m1"))
	assert.False(t, b.HasAccess("stranger"))
	assert.False(t, b.HasAccess(""))
	assert.True(t, b.IsOwner("owner"))
	assert.False(t, b.IsOwner("m1"))
}

func TestCloneIsDeep(t *testing.T) {
	b := Board{ID: "b", MemberIDs: []string{"m"}, Columns: []Column{{ID: "A", Cards: []Card{{ID: "C", Checklist: []ChecklistItem{{ID: "i", Text: "t"}}}}}}}
	c := b.Clone()
	c.MemberIDs[0] = "x"
	c.Columns[0].Cards[0].Title = "changed"
	c.Columns[0].Cards[0].Checklist[0].Completed = true

	assert.Equal(t, "m", b.MemberIDs[0])
	assert.Empty(t, b.Columns[0].Cards[0].Title)
	assert.False(t, b.Columns[0].Cards[0].Checklist[0].Completed)
}

func TestNewBoardDefaults(t *testing.T) {
	b := NewBoard("id", "owner", "", "", sampleTime)
	assert.Equal(t, DefaultBoardTitle, b.Title)
	require.Len(t, b.Columns, 3)
	assert.Equal(t, "To Do", b.Columns[0].Title)
	assert.Equal(t, "Done", b.Columns[2].Title)
	assert.Equal(t, int64(1), b.Version)
	for _, c := range b.Columns {
		assert.NotEmpty(t, c.ID)
	}
}
