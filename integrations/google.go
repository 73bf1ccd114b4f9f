package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chxlky/boardsync/apply"
	"github.com/chxlky/boardsync/config"
	"github.com/chxlky/boardsync/database"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/chxlky/boardsync/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// NewCalendarService authenticates with the service account from the config.
func NewCalendarService(ctx context.Context, cfg config.GoogleConfig) (*calendar.Service, error) {
	jsonBytes, err := json.Marshal(cfg.ServiceAccount)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal service account settings to JSON: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(jsonBytes, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account credentials from JSON: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return srv, nil
}

// CalendarMirror keeps an all-day calendar event on each card's end date.
// It runs as an apply.Observer, so calendar outages never block sync.
type CalendarMirror struct {
	service    *calendar.Service
	calendarID string
	store      *database.Store
	logger     *zap.Logger
}

func NewCalendarMirror(service *calendar.Service, calendarID string, store *database.Store, logger *zap.Logger) *CalendarMirror {
	return &CalendarMirror{service: service, calendarID: calendarID, store: store, logger: logger}
}

// Observe implements apply.Observer.
func (m *CalendarMirror) Observe(ctx context.Context, _ events.Event, res apply.Result) error {
	card := res.Card
	if card == nil || card.EndAt == nil {
		return nil
	}

	if card.CalendarEventID != "" {
		_, err := m.UpdateEvent(ctx, *card)
		if err == nil || !isNotFound(err) {
			return err
		}
		m.logger.Info("Calendar event vanished; recreating", zap.Uint("cardID", card.ID), zap.String("eventID", card.CalendarEventID))
	}

	created, err := m.CreateEvent(ctx, *card)
	if err != nil {
		return err
	}
	if err := m.store.SetCardCalendarEvent(ctx, card.ID, created.Id); err != nil {
		return fmt.Errorf("storing calendar event id: %w", err)
	}
	m.logger.Info("Created calendar event", zap.Uint("cardID", card.ID), zap.String("eventID", created.Id), zap.String("link", created.HtmlLink))
	return nil
}

func eventFromCard(card models.Card) *calendar.Event {
	desc := card.Description
	if card.Tags != "" {
		desc = strings.TrimSpace(desc + "\n\nTags: " + card.Tags)
	}
	return &calendar.Event{
		Summary:     fmt.Sprintf("[%s] %s", card.Column, card.Title),
		Description: desc,
		Start: &calendar.EventDateTime{
			Date: card.EndAt.Format("2006-01-02"),
		},
		End: &calendar.EventDateTime{
			Date: card.EndAt.AddDate(0, 0, 1).Format("2006-01-02"), // all-day event ends the next day
		},
	}
}

func (m *CalendarMirror) CreateEvent(ctx context.Context, card models.Card) (*calendar.Event, error) {
	if card.EndAt == nil {
		return nil, fmt.Errorf("card %d has no end date, cannot create event", card.ID)
	}
	createdEvent, err := m.service.Events.Insert(m.calendarID, eventFromCard(card)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to create event in Google Calendar: %w", err)
	}
	return createdEvent, nil
}

func (m *CalendarMirror) UpdateEvent(ctx context.Context, card models.Card) (*calendar.Event, error) {
	if card.EndAt == nil {
		return nil, fmt.Errorf("card %d has no end date, cannot update event", card.ID)
	}

	event, err := m.service.Events.Get(m.calendarID, card.CalendarEventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve event from Google Calendar: %w", err)
	}

	fresh := eventFromCard(card)
	event.Summary = fresh.Summary
	event.Description = fresh.Description
	event.Start = fresh.Start
	event.End = fresh.End

	updatedEvent, err := m.service.Events.Update(m.calendarID, event.Id, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to update event in Google Calendar: %w", err)
	}
	return updatedEvent, nil
}

// DeleteEvent removes a mirrored event. An event that is already gone is not an error.
func (m *CalendarMirror) DeleteEvent(ctx context.Context, eventID string) error {
	err := m.service.Events.Delete(m.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			m.logger.Info("Event not found in Google Calendar. Already deleted.", zap.String("eventID", eventID))
			return nil
		}
		return fmt.Errorf("unable to delete event from Google Calendar: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
