package database

import (
	"context"
	"errors"
	"time"

	"github.com/chxlky/boardsync/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// Store wraps the gorm handle with the board, card, comment and share
// primitives the HTTP handlers and the event applier need.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a Store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Store) ListBoards(ctx context.Context) ([]models.Board, error) {
	var boards []models.Board
	err := s.db.WithContext(ctx).Order("name").Find(&boards).Error
	return boards, err
}

func (s *Store) BoardBySlug(ctx context.Context, slug string) (*models.Board, error) {
	var board models.Board
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&board).Error; err != nil {
		return nil, notFound(err)
	}
	return &board, nil
}

func (s *Store) BoardExists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Board{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// CardsForBoard returns the board's cards, most recently updated first.
func (s *Store) CardsForBoard(ctx context.Context, boardID uint) ([]models.Card, error) {
	var cards []models.Card
	err := s.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("updated_at DESC").Order("id DESC").
		Find(&cards).Error
	return cards, err
}

func (s *Store) Card(ctx context.Context, id uint) (*models.Card, error) {
	var card models.Card
	if err := s.db.WithContext(ctx).First(&card, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &card, nil
}

func (s *Store) CreateCard(ctx context.Context, card *models.Card) error {
	return s.db.WithContext(ctx).Create(card).Error
}

// CardPatch is a field-level merge; nil fields are left untouched.
type CardPatch struct {
	Column *models.Column
	Agent  *string
	Tokens *int64
	EndAt  *time.Time
	Tags   *string
}

// PatchCard applies p and stamps updated_at. It returns the number of rows
// touched, which is zero when the card does not exist.
func (s *Store) PatchCard(ctx context.Context, id uint, p CardPatch, updatedAt time.Time) (int64, error) {
	updates := map[string]any{"updated_at": updatedAt}
	if p.Column != nil {
		updates["column"] = *p.Column
	}
	if p.Agent != nil {
		updates["agent"] = *p.Agent
	}
	if p.Tokens != nil {
		updates["tokens"] = *p.Tokens
	}
	if p.EndAt != nil {
		updates["end_at"] = *p.EndAt
	}
	if p.Tags != nil {
		updates["tags"] = *p.Tags
	}
	res := s.db.WithContext(ctx).Model(&models.Card{}).Where("id = ?", id).Updates(updates)
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteCard(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Card{}, id).Error
}

func (s *Store) SetCardCalendarEvent(ctx context.Context, cardID uint, eventID string) error {
	return s.db.WithContext(ctx).Model(&models.Card{}).
		Where("id = ?", cardID).
		UpdateColumn("calendar_event_id", eventID).Error
}

func (s *Store) AddComment(ctx context.Context, c *models.Comment) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Store) Comments(ctx context.Context, cardID uint) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("created_at ASC").Order("id ASC").
		Find(&comments).Error
	return comments, err
}

// CreateShare mints a new random token for the board. Every call yields a
// distinct token.
func (s *Store) CreateShare(ctx context.Context, boardID uint) (*models.BoardShare, error) {
	share := &models.BoardShare{BoardID: boardID, Token: uuid.NewString()}
	if err := s.db.WithContext(ctx).Create(share).Error; err != nil {
		return nil, err
	}
	return share, nil
}

func (s *Store) Shares(ctx context.Context, boardID uint) ([]models.BoardShare, error) {
	var shares []models.BoardShare
	err := s.db.WithContext(ctx).Where("board_id = ?", boardID).Order("id").Find(&shares).Error
	return shares, err
}

// MarkProcessed records ev and reports whether it was new. A false result
// means the id was already recorded.
func (s *Store) MarkProcessed(ctx context.Context, ev models.ProcessedEvent) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PruneProcessed forgets event ids applied before the given time and returns
// how many were removed.
func (s *Store) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("applied_at < ?", before).Delete(&models.ProcessedEvent{})
	return res.RowsAffected, res.Error
}

// RecordFailure bumps the attempt counter for a relay unit and returns the new count.
func (s *Store) RecordFailure(ctx context.Context, unitKey, lastError string) (int, error) {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "unit_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
			"updated_at": now,
		}),
	}).Create(&models.RelayFailure{UnitKey: unitKey, Attempts: 1, LastError: lastError, UpdatedAt: now}).Error
	if err != nil {
		return 0, err
	}

	f, err := s.Failure(ctx, unitKey)
	if err != nil {
		return 0, err
	}
	return f.Attempts, nil
}

func (s *Store) Failure(ctx context.Context, unitKey string) (*models.RelayFailure, error) {
	var f models.RelayFailure
	if err := s.db.WithContext(ctx).Where("unit_key = ?", unitKey).First(&f).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (s *Store) MarkDeadLettered(ctx context.Context, unitKey string) error {
	return s.db.WithContext(ctx).Model(&models.RelayFailure{}).
		Where("unit_key = ?", unitKey).
		Updates(map[string]any{"dead_lettered": true, "updated_at": time.Now().UTC()}).Error
}

// ClearFailure forgets a unit once it has been delivered and acknowledged.
func (s *Store) ClearFailure(ctx context.Context, unitKey string) error {
	return s.db.WithContext(ctx).Where("unit_key = ?", unitKey).Delete(&models.RelayFailure{}).Error
}
