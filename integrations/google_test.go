package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chxlky/boardsync/apply"
	"github.com/chxlky/boardsync/database"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/chxlky/boardsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// fakeCalendar stores events in memory, keyed by id.
type fakeCalendar struct {
	mu     sync.Mutex
	events map[string]*calendar.Event
	calls  []string
	seq    int
}

func (f *fakeCalendar) get(id string) *calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id]
}

func (f *fakeCalendar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeCalendar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	const prefix = "/calendars/primary/events"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch {
	case r.Method == http.MethodPost && id == "":
		var ev calendar.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		f.seq++
		ev.Id = fmt.Sprintf("evt%d", f.seq)
		f.events[ev.Id] = &ev
		_ = json.NewEncoder(w).Encode(ev)
	case r.Method == http.MethodGet:
		ev, ok := f.events[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(ev)
	case r.Method == http.MethodPut:
		var ev calendar.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		f.events[id] = &ev
		_ = json.NewEncoder(w).Encode(ev)
	case r.Method == http.MethodDelete:
		if _, ok := f.events[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
			return
		}
		delete(f.events, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestMirror(t *testing.T) (*CalendarMirror, *fakeCalendar, *database.Store) {
	t.Helper()
	fake := &fakeCalendar{events: map[string]*calendar.Event{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)

	db, err := database.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	store := database.NewStore(db)

	return NewCalendarMirror(svc, "primary", store, zap.NewNop()), fake, store
}

func TestMirrorCreatesThenUpdatesEvent(t *testing.T) {
	mirror, fake, store := newTestMirror(t)
	ctx := context.Background()
	end := time.Date(2024, 6, 30, 17, 0, 0, 0, time.UTC)

	card := &models.Card{BoardID: 1, Title: "Quarterly review", Column: models.ColumnTodo, EndAt: &end, Tags: "finance", CreatedAt: end, UpdatedAt: end}
	require.NoError(t, store.CreateCard(ctx, card))

	require.NoError(t, mirror.Observe(ctx, events.Event{Type: events.CardCreate}, apply.Result{Applied: true, Card: card}))

	stored, err := store.Card(ctx, card.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.CalendarEventID)
	ev := fake.get(stored.CalendarEventID)
	require.NotNil(t, ev)
	assert.Equal(t, "[todo] Quarterly review", ev.Summary)
	assert.Equal(t, "2024-06-30", ev.Start.Date)
	assert.Equal(t, "2024-07-01", ev.End.Date)
	assert.Contains(t, ev.Description, "finance")

	stored.Column = models.ColumnCompleted
	require.NoError(t, mirror.Observe(ctx, events.Event{Type: events.CardUpdate}, apply.Result{Applied: true, Card: stored}))
	assert.Equal(t, 1, fake.count())
	assert.Equal(t, "[completed] Quarterly review", fake.get(stored.CalendarEventID).Summary)
}

func TestMirrorRecreatesVanishedEvent(t *testing.T) {
	mirror, fake, store := newTestMirror(t)
	ctx := context.Background()
	end := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	card := &models.Card{BoardID: 1, Title: "Gone", Column: models.ColumnTodo, EndAt: &end, CalendarEventID: "deleted-by-hand", CreatedAt: end, UpdatedAt: end}
	require.NoError(t, store.CreateCard(ctx, card))

	require.NoError(t, mirror.Observe(ctx, events.Event{Type: events.CardUpdate}, apply.Result{Applied: true, Card: card}))

	stored, err := store.Card(ctx, card.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "deleted-by-hand", stored.CalendarEventID)
	assert.Equal(t, 1, fake.count())
}

func TestMirrorIgnoresCardsWithoutEndDate(t *testing.T) {
	mirror, fake, _ := newTestMirror(t)

	err := mirror.Observe(context.Background(), events.Event{Type: events.CardCreate}, apply.Result{Applied: true, Card: &models.Card{ID: 1, Title: "Someday"}})
	require.NoError(t, err)
	err = mirror.Observe(context.Background(), events.Event{Type: events.BoardShare}, apply.Result{Applied: true, Share: &models.BoardShare{BoardID: 1}})
	require.NoError(t, err)
	assert.Zero(t, fake.callCount())
}

func TestDeleteEventToleratesMissing(t *testing.T) {
	mirror, fake, _ := newTestMirror(t)
	fake.events["evt9"] = &calendar.Event{Id: "evt9"}

	require.NoError(t, mirror.DeleteEvent(context.Background(), "evt9"))
	assert.Zero(t, fake.count())
	require.NoError(t, mirror.DeleteEvent(context.Background(), "evt9"))
}
