// Package apply turns one decoded event into one state transition against the
// store. It keeps no state between calls.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chxlky/boardsync/database"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/chxlky/boardsync/internal/models"
	"go.uber.org/zap"
)

var ErrBoardNotFound = errors.New("board not found")

// Result describes what Apply did. At most one of Applied, Duplicate, Stale,
// Missing and Ignored is set.
type Result struct {
	Type events.Type `json:"type"`

	Applied   bool `json:"applied"`
	Duplicate bool `json:"duplicate,omitempty"`
	Stale     bool `json:"stale,omitempty"`
	Missing   bool `json:"missing,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`

	Card    *models.Card       `json:"card,omitempty"`
	Comment *models.Comment    `json:"comment,omitempty"`
	Share   *models.BoardShare `json:"share,omitempty"`
}

// Observer is told about every applied event after its transaction commits.
// Errors are logged and never undo the change.
type Observer interface {
	Observe(ctx context.Context, ev events.Event, res Result) error
}

type Applier struct {
	store     *database.Store
	logger    *zap.Logger
	observers []Observer
}

func New(store *database.Store, logger *zap.Logger, observers ...Observer) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{store: store, logger: logger, observers: observers}
}

// Apply performs the transition for ev inside one transaction. Events with an
// ID are recorded in the same transaction; a repeated ID is a no-op.
func (a *Applier) Apply(ctx context.Context, ev events.Event) (Result, error) {
	res := Result{Type: ev.Type}
	log := a.logger.With(
		zap.String("type", string(ev.Type)),
		zap.String("eventID", ev.ID),
		zap.Time("timestamp", ev.Timestamp),
	)

	if !ev.Type.Known() {
		log.Warn("Unknown event type; nothing applied", zap.String("source", ev.Source))
		res.Ignored = true
		return res, nil
	}

	err := a.store.Transaction(ctx, func(tx *database.Store) error {
		if ev.ID != "" {
			fresh, err := tx.MarkProcessed(ctx, models.ProcessedEvent{
				ID:        ev.ID,
				Type:      string(ev.Type),
				Source:    ev.Source,
				AppliedAt: time.Now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("recording event id: %w", err)
			}
			if !fresh {
				res.Duplicate = true
				return nil
			}
		}

		switch ev.Type {
		case events.CardCreate:
			return createCard(ctx, tx, ev, &res)
		case events.CardUpdate:
			return updateCard(ctx, tx, ev, &res)
		case events.CardComment:
			return addComment(ctx, tx, ev, &res)
		case events.BoardShare:
			return shareBoard(ctx, tx, ev, &res)
		}
		return nil
	})
	if err != nil {
		return Result{Type: ev.Type}, err
	}

	switch {
	case res.Duplicate:
		log.Info("Event already applied; skipping")
	case res.Stale:
		log.Info("Event older than card; skipping")
	case res.Missing:
		log.Info("Card not found; update had no effect")
	case res.Applied:
		log.Info("Applied event", zap.String("source", ev.Source))
		a.notify(ctx, ev, res, log)
	}
	return res, nil
}

func (a *Applier) notify(ctx context.Context, ev events.Event, res Result, log *zap.Logger) {
	for _, o := range a.observers {
		if err := o.Observe(ctx, ev, res); err != nil {
			log.Warn("Observer failed", zap.String("observer", fmt.Sprintf("%T", o)), zap.Error(err))
		}
	}
}

func createCard(ctx context.Context, tx *database.Store, ev events.Event, res *Result) error {
	d, err := ev.CardCreate()
	if err != nil {
		return err
	}
	ok, err := tx.BoardExists(ctx, d.BoardID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrBoardNotFound, d.BoardID)
	}

	ts := ev.Timestamp.UTC()
	card := &models.Card{
		BoardID:     d.BoardID,
		Title:       d.Title,
		Description: d.Description,
		Column:      d.Column,
		Agent:       d.Agent,
		Tokens:      d.Tokens,
		StartAt:     d.StartAt,
		EndAt:       d.EndAt,
		Tags:        d.Tags,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := tx.CreateCard(ctx, card); err != nil {
		return fmt.Errorf("creating card: %w", err)
	}
	res.Card = card
	res.Applied = true
	return nil
}

// updateCard merges the patch unless the card is gone or already carries a
// newer change.
func updateCard(ctx context.Context, tx *database.Store, ev events.Event, res *Result) error {
	d, err := ev.CardUpdate()
	if err != nil {
		return err
	}

	current, err := tx.Card(ctx, d.ID)
	if errors.Is(err, database.ErrNotFound) {
		res.Missing = true
		return nil
	}
	if err != nil {
		return err
	}
	if ev.Timestamp.Before(current.UpdatedAt) {
		res.Stale = true
		res.Card = current
		return nil
	}

	patch := database.CardPatch{
		Column: d.Column,
		Agent:  d.Agent,
		Tokens: d.Tokens,
		EndAt:  d.EndAt,
		Tags:   d.Tags,
	}
	if _, err := tx.PatchCard(ctx, d.ID, patch, ev.Timestamp.UTC()); err != nil {
		return fmt.Errorf("updating card %d: %w", d.ID, err)
	}

	updated, err := tx.Card(ctx, d.ID)
	if err != nil {
		return err
	}
	res.Card = updated
	res.Applied = true
	return nil
}

func addComment(ctx context.Context, tx *database.Store, ev events.Event, res *Result) error {
	d, err := ev.CardComment()
	if err != nil {
		return err
	}
	source := ev.Source
	if source == "" {
		source = models.CommentSourceSync
	}
	comment := &models.Comment{
		CardID:    d.CardID,
		Author:    d.Author,
		Content:   d.Content,
		Source:    source,
		CreatedAt: ev.Timestamp.UTC(),
	}
	if err := tx.AddComment(ctx, comment); err != nil {
		return fmt.Errorf("adding comment: %w", err)
	}
	res.Comment = comment
	res.Applied = true
	return nil
}

func shareBoard(ctx context.Context, tx *database.Store, ev events.Event, res *Result) error {
	d, err := ev.BoardShare()
	if err != nil {
		return err
	}
	ok, err := tx.BoardExists(ctx, d.BoardID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrBoardNotFound, d.BoardID)
	}
	share, err := tx.CreateShare(ctx, d.BoardID)
	if err != nil {
		return fmt.Errorf("creating share token: %w", err)
	}
	res.Share = share
	res.Applied = true
	return nil
}
