package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"vending-machine/internal/models"
)

type coinStateDBImplementation struct {
	db *sql.DB
}

func NewCoinStateDB(dbConn *sql.DB) CoinStateDB {
	return &coinStateDBImplementation{
		db: dbConn,
	}
}

type journalDBImplementation struct {
	db *sql.DB
}

func NewJournalDB(dbConn *sql.DB) JournalDB {
	return &journalDBImplementation{
		db: dbConn,
	}
}

func (c *coinStateDBImplementation) LoadCoinState(ctx context.Context) (map[int]int, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT denomination, quantity FROM machine_coins")
	if err != nil {
		return nil, fmt.Errorf("failed to query machine coins: %w", err)
	}
	defer rows.Close()

	coins := make(map[int]int)
	for rows.Next() {
		var mc models.MachineCoin
		if err := rows.Scan(&mc.Denomination, &mc.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan machine coin: %w", err)
		}
		coins[mc.Denomination] = mc.Quantity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read machine coins: %w", err)
	}
	return coins, nil
}

func (c *coinStateDBImplementation) SaveCoinState(ctx context.Context, coins map[int]int) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	faces := make([]int, 0, len(coins))
	for face := range coins {
		faces = append(faces, face)
	}
	sort.Ints(faces)

	for _, face := range faces {
		_, err := tx.ExecContext(ctx, `
INSERT INTO machine_coins (denomination, quantity)
VALUES ($1, $2)
ON CONFLICT (denomination) DO UPDATE SET quantity = EXCLUDED.quantity
`, face, coins[face])
		if err != nil {
			return fmt.Errorf("failed to upsert denomination %d: %w", face, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit coin state: %w", err)
	}
	return nil
}

func (j *journalDBImplementation) InsertTransaction(ctx context.Context, t models.CoinTransaction) error {
	coins := t.Coins
	if coins == nil {
		coins = map[int]int{}
	}
	payload, err := json.Marshal(coins)
	if err != nil {
		return fmt.Errorf("failed to encode coins: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		"INSERT INTO coin_transactions (session_id, connection_id, transaction_type, amount, price, coins) VALUES ($1, $2, $3, $4, $5, $6)",
		t.SessionID, t.ConnectionID, t.TransactionType, t.Amount, t.Price, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert %s transaction: %w", t.TransactionType, err)
	}
	return nil
}
