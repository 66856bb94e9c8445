package services

import (
	"fmt"
	"testing"

	"fantasy-match-engine/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore opens a private in-memory sqlite database with the engine's schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func seedAccounts(t *testing.T, store *Store, ratings ...int) []models.RatingAccount {
	t.Helper()

	accounts := make([]models.RatingAccount, len(ratings))
	for i, r := range ratings {
		accounts[i] = models.RatingAccount{
			Username: fmt.Sprintf("player-%03d", i),
			Rating:   r,
		}
	}
	require.NoError(t, store.DB.Create(&accounts).Error)
	return accounts
}

func uniformRatings(n int) []int {
	ratings := make([]int, n)
	for i := range ratings {
		ratings[i] = models.DefaultRating
	}
	return ratings
}
