package db

import (
	"context"
	"database/sql"
	"fmt"

	"vending-machine/internal/config"
	"vending-machine/internal/models"

	_ "github.com/lib/pq"
)

// CoinStateDB stores the startup snapshot of the machine's coins.
type CoinStateDB interface {
	LoadCoinState(ctx context.Context) (map[int]int, error)
	SaveCoinState(ctx context.Context, coins map[int]int) error
}

// JournalDB records every committed deposit and purchase.
type JournalDB interface {
	InsertTransaction(ctx context.Context, tx models.CoinTransaction) error
}

// NopJournal is used when no database is configured.
type NopJournal struct{}

func (NopJournal) InsertTransaction(context.Context, models.CoinTransaction) error { return nil }

func Connect(cfg *config.Config) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseUser,
		cfg.DatabasePassword,
		cfg.DatabaseName,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s:%s/%s: %w", cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseName, err)
	}
	return db, nil
}
