package models

import "time"

const (
	TransactionDeposit  = "deposit"
	TransactionPurchase = "purchase"
)

type MachineCoin struct {
	Denomination int
	Quantity     int
}

// CoinTransaction is one journal row. Coins holds the deposited coins for a
// deposit and the returned change for a purchase.
type CoinTransaction struct {
	ID              int
	SessionID       string
	ConnectionID    string
	TransactionType string
	Amount          int
	Price           int
	Coins           map[int]int
	CreatedAt       time.Time
}
