package database

import (
	"context"
	"fmt"

	"github.com/chxlky/boardsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DefaultBoards are created when the boards table is empty.
var DefaultBoards = []models.Board{
	{Name: "Wealth Analytica", Slug: "wealth-analytica", Description: "Board for Wealth Analytica company"},
	{Name: "BAV Futures", Slug: "bav-futures", Description: "Board for BAV Futures"},
	{Name: "Prostate Cancer", Slug: "prostate-cancer", Description: "Board for Prostate Cancer UK"},
}

// Open connects to the sqlite file at dbPath, migrates every model and seeds
// the default boards. ":memory:" gives a private in-memory database.
func Open(dbPath string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection serialises writers; concurrent intake calls queue here
	// instead of failing with SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	seeded, err := Seed(context.Background(), db)
	if err != nil {
		return nil, fmt.Errorf("failed to seed boards: %w", err)
	}
	if seeded {
		logger.Info("Seeded default boards", zap.Int("count", len(DefaultBoards)))
	}

	logger.Info("Database initialised and migrated successfully", zap.String("path", dbPath))
	return db, nil
}

// Seed inserts DefaultBoards when no board exists yet.
func Seed(ctx context.Context, db *gorm.DB) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Board{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	boards := make([]models.Board, len(DefaultBoards))
	copy(boards, DefaultBoards)
	if err := db.WithContext(ctx).Create(&boards).Error; err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the underlying sql.DB.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
