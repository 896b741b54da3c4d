package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/storage"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	views []domain.BoardView
}

func (b *recordingBroadcaster) Publish(_ context.Context, view domain.BoardView) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.views = append(b.views, view)
	return nil
}

func (b *recordingBroadcaster) published() []domain.BoardView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.BoardView(nil), b.views...)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.BoardEvent
}

func (e *recordingEvents) Publish(ev domain.BoardEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return true
}

// interferingStore runs interfere once, right before the first ReplaceBoard,
// simulating another writer that loaded the same version.
type interferingStore struct {
	Store
	once      sync.Once
	interfere func()
	replaces  int
}

func (s *interferingStore) ReplaceBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	s.once.Do(s.interfere)
	s.replaces++
	return s.Store.ReplaceBoard(ctx, b)
}

var (
	owner  = domain.Identity{UserID: "owner", DisplayName: "Olive"}
	member = domain.Identity{UserID: "member", DisplayName: "Max"}
)

func seedBoard(t *testing.T, store *storage.MemoryStore) domain.Board {
	t.Helper()
	b := domain.Board{
		ID:        "b1",
		Title:     "Sprint",
		OwnerID:   owner.UserID,
		MemberIDs: []string{member.UserID},
		Columns: []domain.Column{
			{ID: "A", Title: "Todo", Position: 0, Cards: []domain.Card{{ID: "C", Title: "c", Position: 0}, {ID: "D", Title: "d", Position: 1}}},
			{ID: "B", Title: "Done", Position: 1, Cards: []domain.Card{{ID: "E", Title: "e", Position: 0}}},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	created, err := store.CreateBoard(context.Background(), b)
	require.NoError(t, err)
	return created
}

func newTestHandler(store Store) (*Handler, *recordingBroadcaster, *recordingEvents) {
	logger, _ := test.NewNullLogger()
	bc := &recordingBroadcaster{}
	ev := &recordingEvents{}
	dir := storage.NewMemoryDirectory()
	_ = dir.Remember(context.Background(), owner)
	h := NewHandler(store, dir, bc, logger, WithEvents(ev), WithMaxAttempts(3))
	return h, bc, ev
}

func cardIDs(col domain.Column) []string {
	out := []string{}
	for _, c := range col.Cards {
		out = append(out, c.ID)
	}
	return out
}

func TestMoveAppliesSpliceAndBroadcasts(t *testing.T) {
	store := storage.NewMemoryStore()
	seedBoard(t, store)
	h, bc, ev := newTestHandler(store)

	view, err := h.Move(context.Background(), member, domain.CardMove{BoardID: "b1", CardID: "C", SourceColumnID: "A", DestColumnID: "B", NewPosition: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"D"}, cardIDs(view.Columns[0]))
	assert.Equal(t, []string{"E", "C"}, cardIDs(view.Columns[1]))
	assert.Equal(t, 0, view.Columns[1].Cards[1].Position, "position fields are not renumbered")

	stored, err := store.LoadBoard(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"E", "C"}, cardIDs(stored.Columns[1]))
	assert.Equal(t, int64(2), stored.Version)

	published := bc.published()
	require.Len(t, published, 1)
	assert.Equal(t, stored.Version, published[0].Version)
	assert.Equal(t, domain.Member{ID: "owner", Name: "Olive"}, published[0].Owner)
	assert.Equal(t, []domain.Member{{ID: "member", Name: "member"}}, published[0].Members)

	require.Len(t, ev.events, 1)
	assert.Equal(t, domain.EventCardMoved, ev.events[0].Type)
	assert.Equal(t, "member", ev.events[0].UserID)
}

func TestMoveMissingElementsIsSilentNoop(t *testing.T) {
	tests := []struct {
		name string
		req  domain.CardMove
	}{
		{name: "unknownCard", req: domain.CardMove{BoardID: "b1", CardID: "Z", SourceColumnID: "A", DestColumnID: "B"}},
		{name: "unknownSource", req: domain.CardMove{BoardID: "b1", CardID: "C", SourceColumnID: "Q", DestColumnID: "B"}},
		{name: "unknownDestination", req: domain.CardMove{BoardID: "b1", CardID: "C", SourceColumnID: "A", DestColumnID: "Q"}},
		{name: "unknownBoard", req: domain.CardMove{BoardID: "nope", CardID: "C", SourceColumnID: "A", DestColumnID: "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			seedBoard(t, store)
			before, err := store.LoadBoard(context.Background(), "b1")
			require.NoError(t, err)
			beforeBytes, _ := json.Marshal(before)

			h, bc, ev := newTestHandler(store)
			_, err = h.Move(context.Background(), owner, tt.req)
			assert.True(t, domain.IsNotFound(err), "got %v", err)

			after, err := store.LoadBoard(context.Background(), "b1")
			require.NoError(t, err)
			afterBytes, _ := json.Marshal(after)
			assert.JSONEq(t, string(beforeBytes), string(afterBytes))
			assert.Empty(t, bc.published())
			assert.Empty(t, ev.events)
		})
	}
}

func TestMutationsRequireMembership(t *testing.T) {
	store := storage.NewMemoryStore()
	seedBoard(t, store)
	h, bc, _ := newTestHandler(store)
	stranger := domain.Identity{UserID: "stranger"}

	_, err := h.Move(context.Background(), stranger, domain.CardMove{BoardID: "b1", CardID: "C", SourceColumnID: "A", DestColumnID: "B"})
	assert.True(t, errors.Is(err, domain.ErrForbidden), "got %v", err)

	_, err = h.Replace(context.Background(), stranger, domain.BoardUpdate{BoardID: "b1", Updates: domain.BoardPatch{Columns: []domain.Column{}}})
	assert.True(t, errors.Is(err, domain.ErrForbidden), "got %v", err)
	assert.Empty(t, bc.published())
}

func TestReplaceIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	seedBoard(t, store)
	h, bc, _ := newTestHandler(store)
	title := "Renamed"
	req := domain.BoardUpdate{BoardID: "b1", Updates: domain.BoardPatch{
		Title: &title,
		Columns: []domain.Column{
			{ID: "A", Title: "Todo", Cards: []domain.Card{{ID: "D", Title: "d"}}},
			{ID: "B", Title: "Done", Cards: []domain.Card{{ID: "C", Title: "c"}, {ID: "E", Title: "e"}}},
		},
	}}

	first, err := h.Replace(context.Background(), owner, req)
	require.NoError(t, err)
	second, err := h.Replace(context.Background(), owner, req)
	require.NoError(t, err)

	assert.Equal(t, first.Columns, second.Columns)
	assert.Equal(t, "Renamed", second.Title)
	assert.Equal(t, []string{"C", "E"}, cardIDs(second.Columns[1]))
	assert.Len(t, bc.published(), 2)
}

func TestReplaceAssignsMissingIDs(t *testing.T) {
	store := storage.NewMemoryStore()
	seedBoard(t, store)
	h, _, _ := newTestHandler(store)

	view, err := h.Replace(context.Background(), member, domain.BoardUpdate{BoardID: "b1", Updates: domain.BoardPatch{
		Columns: []domain.Column{{Title: "Fresh", Cards: []domain.Card{{Title: "new", Checklist: []domain.ChecklistItem{{Text: "step"}}}}}},
	}})
	require.NoError(t, err)

	require.Len(t, view.Columns, 1)
	assert.NotEmpty(t, view.Columns[0].ID)
	assert.NotEmpty(t, view.Columns[0].Cards[0].ID)
	assert.NotEmpty(t, view.Columns[0].Cards[0].Checklist[0].ID)
	assert.Equal(t, "Sprint", view.Title, "title is untouched when not supplied")
}

func TestReplaceWithStaleBaseVersionConflicts(t *testing.T) {
	store := storage.NewMemoryStore()
	seedBoard(t, store)
	h, bc, _ := newTestHandler(store)
	stale := int64(0)

	_, err := h.Replace(context.Background(), owner, domain.BoardUpdate{BoardID: "b1", BaseVersion: &stale, Updates: domain.BoardPatch{Columns: []domain.Column{}}})
	assert.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)

	stored, _ := store.LoadBoard(context.Background(), "b1")
	assert.Len(t, stored.Columns, 2)
	assert.Empty(t, bc.published())
}

func TestReplaceWithBaseVersionLosesRaceAndConflicts(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedBoard(t, mem)
	store := &interferingStore{Store: mem}
	store.interfere = func() {
		b, _ := mem.LoadBoard(context.Background(), "b1")
		b.Title = "other writer"
		_, err := mem.ReplaceBoard(context.Background(), b)
		require.NoError(t, err)
	}
	h, _, _ := newTestHandler(store)
	base := int64(1)

	_, err := h.Replace(context.Background(), owner, domain.BoardUpdate{BoardID: "b1", BaseVersion: &base, Updates: domain.BoardPatch{Columns: []domain.Column{}}})
	assert.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)

	stored, _ := mem.LoadBoard(context.Background(), "b1")
	assert.Equal(t, "other writer", stored.Title)
	assert.Len(t, stored.Columns, 2)
}

func TestReplaceWithoutBaseVersionConflictsOnRace(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedBoard(t, mem)
	store := &interferingStore{Store: mem}
	store.interfere = func() {
		b, _ := mem.LoadBoard(context.Background(), "b1")
		b.Description = "set concurrently"
		_, err := mem.ReplaceBoard(context.Background(), b)
		require.NoError(t, err)
	}
	h, bc, _ := newTestHandler(store)

	_, err := h.Replace(context.Background(), owner, domain.BoardUpdate{BoardID: "b1", Updates: domain.BoardPatch{
		Columns: []domain.Column{{ID: "only", Title: "Only"}},
	}})
	assert.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)
	assert.Equal(t, 1, store.replaces)
	assert.Empty(t, bc.published())

	stored, _ := mem.LoadBoard(context.Background(), "b1")
	assert.Equal(t, "set concurrently", stored.Description)
	assert.Len(t, stored.Columns, 2)
}

// A Replace built from a loaded board races a Move that commits first. The
// Replace must fail rather than write its stale columns over the move.
func TestReplaceRacingMoveKeepsMove(t *testing.T) {
	for _, withBase := range []bool{false, true} {
		t.Run(fmt.Sprintf("baseVersion=%v", withBase), func(t *testing.T) {
			mem := storage.NewMemoryStore()
			loaded := seedBoard(t, mem)
			mover, _, _ := newTestHandler(mem)

			store := &interferingStore{Store: mem}
			store.interfere = func() {
				_, err := mover.Move(context.Background(), member, domain.CardMove{
					BoardID: "b1", CardID: "C", SourceColumnID: "A", DestColumnID: "B", NewPosition: 1,
				})
				require.NoError(t, err)
			}
			h, bc, _ := newTestHandler(store)

			req := domain.BoardUpdate{BoardID: "b1", Updates: domain.BoardPatch{
				Columns: append(domain.CloneColumns(loaded.Columns), domain.Column{Title: "Backlog", Position: 2}),
			}}
			if withBase {
				req.BaseVersion = &loaded.Version
			}
			_, err := h.Replace(context.Background(), owner, req)
			assert.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)
			assert.Empty(t, bc.published())

			stored, _ := mem.LoadBoard(context.Background(), "b1")
			require.Len(t, stored.Columns, 2)
			assert.Equal(t, []string{"D"}, cardIDs(stored.Columns[0]))
			assert.Equal(t, []string{"E", "C"}, cardIDs(stored.Columns[1]))

			// resubmitting on the fresh board keeps both effects
			fresh := append(domain.CloneColumns(stored.Columns), domain.Column{Title: "Backlog", Position: 2})
			view, err := h.Replace(context.Background(), owner, domain.BoardUpdate{
				BoardID: "b1", BaseVersion: &stored.Version, Updates: domain.BoardPatch{Columns: fresh},
			})
			require.NoError(t, err)
			require.Len(t, view.Columns, 3)
			assert.Equal(t, "Backlog", view.Columns[2].Title)
			assert.Equal(t, []string{"E", "C"}, cardIDs(view.Columns[1]))
		})
	}
}

func TestConcurrentMovesBothSurvive(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedBoard(t, mem)
	store := &interferingStore{Store: mem}
	store.interfere = func() {
		b, _ := mem.LoadBoard(context.Background(), "b1")
		cols, err := domain.MoveCard(b.Columns, "E", "B", "A", 0)
		require.NoError(t, err)
		b.Columns = cols
		_, err = mem.ReplaceBoard(context.Background(), b)
		require.NoError(t, err)
	}
	h, _, _ := newTestHandler(store)

	view, err := h.Move(context.Background(), owner, domain.CardMove{BoardID: "b1", CardID: "C", SourceColumnID: "A", DestColumnID: "B", NewPosition: 0})
	require.NoError(t, err)

	assert.Equal(t, []string{"E", "D"}, cardIDs(view.Columns[0]))
	assert.Equal(t, []string{"C"}, cardIDs(view.Columns[1]))
	assert.Equal(t, 2, store.replaces)
}

type alwaysConflict struct{ Store }

func (alwaysConflict) ReplaceBoard(context.Context, domain.Board) (domain.Board, error) {
	return domain.Board{}, domain.ErrVersionConflict
}

func TestMoveGivesUpAfterMaxAttempts(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedBoard(t, mem)
	h, bc, _ := newTestHandler(alwaysConflict{mem})

	_, err := h.Move(context.Background(), owner, domain.CardMove{BoardID: "b1", CardID: "C", SourceColumnID: "A", DestColumnID: "B"})
	assert.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)
	assert.Empty(t, bc.published())
}

type failingStore struct{ Store }

func (failingStore) LoadBoard(context.Context, string) (domain.Board, error) {
	return domain.Board{}, errors.New("connection reset")
}

func TestLoadFailureIsPersistenceError(t *testing.T) {
	h, _, _ := newTestHandler(failingStore{})
	_, err := h.Move(context.Background(), owner, domain.CardMove{BoardID: "b1", CardID: "C", SourceColumnID: "A", DestColumnID: "B"})
	var perr *domain.PersistenceError
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

func TestMutationSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	store := storage.NewMemoryStore()
	seedBoard(t, store)
	h, _, _ := newTestHandler(store)

	_, err := h.Move(context.Background(), owner, domain.CardMove{BoardID: "b1", CardID: "C", SourceColumnID: "A", DestColumnID: "B"})
	require.NoError(t, err)
	stale := int64(0)
	_, err = h.Replace(context.Background(), owner, domain.BoardUpdate{BoardID: "b1", BaseVersion: &stale, Updates: domain.BoardPatch{Columns: []domain.Column{}}})
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "mutation.move", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, "mutation.replace", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestAddMember(t *testing.T) {
	store := storage.NewMemoryStore()
	seedBoard(t, store)
	h, bc, ev := newTestHandler(store)

	_, err := h.AddMember(context.Background(), member, "b1", "newbie")
	assert.True(t, errors.Is(err, domain.ErrForbidden), "members cannot invite: %v", err)

	view, err := h.AddMember(context.Background(), owner, "b1", "newbie")
	require.NoError(t, err)
	assert.Contains(t, view.MemberIDs, "newbie")
	require.Len(t, bc.published(), 1)

	again, err := h.AddMember(context.Background(), owner, "b1", "newbie")
	require.NoError(t, err)
	assert.Equal(t, view.Version, again.Version)
	assert.Len(t, bc.published(), 1)
	assert.Len(t, ev.events, 1)
	assert.Equal(t, domain.EventMemberAdded, ev.events[0].Type)
}
