package apply

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/chxlky/boardsync/database"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/chxlky/boardsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recordingObserver struct {
	seen []events.Type
	err  error
}

func (r *recordingObserver) Observe(_ context.Context, ev events.Event, _ Result) error {
	r.seen = append(r.seen, ev.Type)
	return r.err
}

func newTestApplier(t *testing.T, observers ...Observer) (*Applier, *database.Store) {
	t.Helper()
	db, err := database.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	store := database.NewStore(db)
	return New(store, zap.NewNop(), observers...), store
}

func event(typ events.Type, ts time.Time, data string) events.Event {
	return events.Event{Type: typ, Timestamp: ts, Source: "relay", Data: []byte(data)}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func boardID(t *testing.T, store *database.Store, slug string) uint {
	t.Helper()
	b, err := store.BoardBySlug(context.Background(), slug)
	require.NoError(t, err)
	return b.ID
}

func TestCreateCard(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()
	wa := boardID(t, store, "wealth-analytica")

	res, err := a.Apply(ctx, event(events.CardCreate, t0, `{"board_id":1,"title":"Sync Test Card","column":"ideas","tags":"company:wealth,sync"}`))
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.NotNil(t, res.Card)

	cards, err := store.CardsForBoard(ctx, wa)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	card := cards[0]
	assert.Equal(t, "Sync Test Card", card.Title)
	assert.Equal(t, models.ColumnIdeas, card.Column)
	assert.Zero(t, card.Tokens)
	assert.Equal(t, "company:wealth,sync", card.Tags)
	assert.True(t, t0.Equal(card.CreatedAt), "created_at comes from the event")
	assert.True(t, t0.Equal(card.UpdatedAt), "updated_at comes from the event")
}

func TestCreateCardDefaultsToTodo(t *testing.T) {
	a, _ := newTestApplier(t)

	res, err := a.Apply(context.Background(), event(events.CardCreate, t0, `{"board_id":2,"title":"Plan"}`))
	require.NoError(t, err)
	assert.Equal(t, models.ColumnTodo, res.Card.Column)
}

func TestCreateCardUnknownBoard(t *testing.T) {
	a, _ := newTestApplier(t)

	_, err := a.Apply(context.Background(), event(events.CardCreate, t0, `{"board_id":99,"title":"Orphan"}`))
	assert.ErrorIs(t, err, ErrBoardNotFound)
}

func TestCreateCardMalformed(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()

	_, err := a.Apply(ctx, event(events.CardCreate, t0, `{"board_id":1,"title":""}`))
	assert.ErrorIs(t, err, events.ErrMalformed)

	cards, err := store.CardsForBoard(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestUpdateMergesOnlyGivenFields(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()

	created, err := a.Apply(ctx, event(events.CardCreate, t0, `{"board_id":1,"title":"Audit","column":"todo","agent":"A","tokens":5}`))
	require.NoError(t, err)
	id := created.Card.ID

	later := t0.Add(time.Hour)
	res, err := a.Apply(ctx, event(events.CardUpdate, later, `{"id":`+itoa(id)+`,"column":"inprogress"}`))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	card, err := store.Card(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnInProgress, card.Column)
	require.NotNil(t, card.Agent)
	assert.Equal(t, "A", *card.Agent)
	assert.EqualValues(t, 5, card.Tokens)
	assert.True(t, later.Equal(card.UpdatedAt))
}

func TestUpdateAllowsAnyTransition(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()

	created, err := a.Apply(ctx, event(events.CardCreate, t0, `{"board_id":1,"title":"Loop"}`))
	require.NoError(t, err)
	id := created.Card.ID

	path := []models.Column{models.ColumnCompleted, models.ColumnIdeas, models.ColumnInProgress, models.ColumnTodo, models.ColumnCompleted}
	for i, col := range path {
		ts := t0.Add(time.Duration(i+1) * time.Minute)
		_, err := a.Apply(ctx, event(events.CardUpdate, ts, `{"id":`+itoa(id)+`,"column":"`+string(col)+`"}`))
		require.NoError(t, err)
		card, err := store.Card(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, col, card.Column)
	}
}

func TestUpdateMissingCardIsNoop(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()

	created, err := a.Apply(ctx, event(events.CardCreate, t0, `{"board_id":1,"title":"Untouched","column":"todo"}`))
	require.NoError(t, err)

	res, err := a.Apply(ctx, event(events.CardUpdate, t0.Add(time.Hour), `{"id":4242,"column":"completed"}`))
	require.NoError(t, err)
	assert.True(t, res.Missing)
	assert.False(t, res.Applied)

	card, err := store.Card(ctx, created.Card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnTodo, card.Column)
	assert.True(t, t0.Equal(card.UpdatedAt))
}

func TestUpdateOlderThanCardIsSkipped(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()

	created, err := a.Apply(ctx, event(events.CardCreate, t0, `{"board_id":1,"title":"Race"}`))
	require.NoError(t, err)
	id := created.Card.ID

	newer := t0.Add(2 * time.Hour)
	_, err = a.Apply(ctx, event(events.CardUpdate, newer, `{"id":`+itoa(id)+`,"column":"completed"}`))
	require.NoError(t, err)

	res, err := a.Apply(ctx, event(events.CardUpdate, t0.Add(time.Hour), `{"id":`+itoa(id)+`,"column":"ideas","tokens":40}`))
	require.NoError(t, err)
	assert.True(t, res.Stale)

	card, err := store.Card(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnCompleted, card.Column)
	assert.Zero(t, card.Tokens)
	assert.True(t, newer.Equal(card.UpdatedAt))
}

func TestCommentDefaultsSourceAndAllowsOrphans(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()

	ev := events.Event{Type: events.CardComment, Timestamp: t0, Data: []byte(`{"card_id":777,"author":"ana","content":"ping"}`)}
	res, err := a.Apply(ctx, ev)
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, models.CommentSourceSync, res.Comment.Source)

	comments, err := store.Comments(ctx, 777)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "ping", comments[0].Content)
	assert.True(t, t0.Equal(comments[0].CreatedAt))
}

func TestCommentKeepsEventSource(t *testing.T) {
	a, _ := newTestApplier(t)

	res, err := a.Apply(context.Background(), event(events.CardComment, t0, `{"card_id":1,"author":"ana","content":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "relay", res.Comment.Source)
}

func TestShareTwiceMakesTwoTokens(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()
	ev := event(events.BoardShare, t0, `{"board_id":1}`)

	first, err := a.Apply(ctx, ev)
	require.NoError(t, err)
	second, err := a.Apply(ctx, ev)
	require.NoError(t, err)
	assert.NotEqual(t, first.Share.Token, second.Share.Token)

	shares, err := store.Shares(ctx, 1)
	require.NoError(t, err)
	require.Len(t, shares, 2)
	for _, s := range shares {
		assert.Equal(t, uint(1), s.BoardID)
	}
}

func TestShareUnknownBoard(t *testing.T) {
	a, _ := newTestApplier(t)

	_, err := a.Apply(context.Background(), event(events.BoardShare, t0, `{"board_id":50}`))
	assert.ErrorIs(t, err, ErrBoardNotFound)
}

func TestEventIDDeduplicates(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()

	share := event(events.BoardShare, t0, `{"board_id":1}`)
	share.ID = "github:acme/relay#3"
	create := event(events.CardCreate, t0, `{"board_id":1,"title":"Once"}`)
	create.ID = "github:acme/relay#4"

	for range 3 {
		_, err := a.Apply(ctx, share)
		require.NoError(t, err)
		_, err = a.Apply(ctx, create)
		require.NoError(t, err)
	}

	shares, err := store.Shares(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, shares, 1)
	cards, err := store.CardsForBoard(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, cards, 1)

	res, err := a.Apply(ctx, create)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Applied)
}

func TestFailedApplyDoesNotRecordID(t *testing.T) {
	a, store := newTestApplier(t)
	ctx := context.Background()

	bad := event(events.CardCreate, t0, `{"board_id":99,"title":"Later"}`)
	bad.ID = "github:acme/relay#5"
	_, err := a.Apply(ctx, bad)
	require.Error(t, err)

	fresh, err := store.MarkProcessed(ctx, models.ProcessedEvent{ID: bad.ID})
	require.NoError(t, err)
	assert.True(t, fresh, "rolled back transaction must not keep the id")
}

func TestUnknownTypeIsIgnored(t *testing.T) {
	obs := &recordingObserver{}
	a, store := newTestApplier(t, obs)
	ctx := context.Background()

	res, err := a.Apply(ctx, event("bogus:event", t0, `{"board_id":1,"title":"nope"}`))
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Empty(t, obs.seen)

	cards, err := store.CardsForBoard(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cards)
	boards, err := store.ListBoards(ctx)
	require.NoError(t, err)
	assert.Len(t, boards, len(database.DefaultBoards))
}

func TestObserversSeeOnlyAppliedEvents(t *testing.T) {
	obs := &recordingObserver{err: errors.New("feed down")}
	a, _ := newTestApplier(t, obs)
	ctx := context.Background()

	_, err := a.Apply(ctx, event(events.CardCreate, t0, `{"board_id":1,"title":"Seen"}`))
	require.NoError(t, err, "observer errors are not returned")
	_, err = a.Apply(ctx, event(events.CardUpdate, t0, `{"id":999,"column":"todo"}`))
	require.NoError(t, err)

	assert.Equal(t, []events.Type{events.CardCreate}, obs.seen)
}
