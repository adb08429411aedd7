package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"vending-machine/internal/db"
	"vending-machine/internal/metrics"
	"vending-machine/internal/models"
	"vending-machine/pkg"

	"go.uber.org/zap"
)

var ErrInvalidPrice = errors.New("invalid price")

type Coin struct {
	Face     int
	Quantity int
}

type DepositResult struct {
	SessionID string
	Accepted  map[int]int
	Rejected  []Coin
	// value of the accepted coins
	Amount int
	// session deposit total after this deposit
	Total int
}

type PurchaseResult struct {
	SessionID    string
	Price        int
	Change       map[int]int
	ChangeAmount int
}

type MachineService interface {
	Deposit(ctx context.Context, sessionID string, coins []Coin) (DepositResult, error)

	Purchase(ctx context.Context, sessionID string, price int) (PurchaseResult, error)

	DepositTotal(sessionID string) int

	Coins() map[int]int

	TotalValue() int

	Supports(face int) bool

	Reset()

	LoadState(table map[int]int) error

	Sessions() []SessionInfo
}

type machine struct {
	mu        sync.Mutex
	inventory *Inventory
	sessions  *Sessions
	journal   db.JournalDB
	log       pkg.Logger
}

func NewMachineService(inventory *Inventory, journal db.JournalDB, log pkg.Logger) MachineService {
	if journal == nil {
		journal = db.NopJournal{}
	}
	metrics.SetInventoryValue(inventory.TotalValue())
	return &machine{
		inventory: inventory,
		sessions:  NewSessions(),
		journal:   journal,
		log:       log,
	}
}

type connIDKey struct{}

// WithConnectionID tags ctx with the id of the connection a request arrived on.
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

func ConnectionID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}

// Deposit adds coins to the machine and credits their value to the session.
// Entries with unsupported denominations are skipped and reported in Rejected.
// A negative quantity, or one whose value would overflow the machine total or
// the session total, rejects the whole deposit before anything is stored.
func (m *machine) Deposit(ctx context.Context, sessionID string, coins []Coin) (DepositResult, error) {
	for _, c := range coins {
		if c.Quantity < 0 {
			return DepositResult{}, &QuantityError{Face: c.Face, Quantity: c.Quantity}
		}
	}

	m.mu.Lock()
	sess := m.sessions.Get(sessionID)
	if err := m.checkDepositFits(sess, coins); err != nil {
		m.mu.Unlock()
		m.log.Warn("rejecting deposit that overflows totals", zap.String("session", sess.ID), zap.Error(err))
		return DepositResult{}, err
	}
	res := DepositResult{
		SessionID: sess.ID,
		Accepted:  make(map[int]int),
	}
	for _, c := range coins {
		if err := m.inventory.Deposit(c.Face, c.Quantity); err != nil {
			res.Rejected = append(res.Rejected, c)
			metrics.RecordRejectedCoin()
			m.log.Warn("skipping coin", zap.String("session", sess.ID), zap.Int("denomination", c.Face), zap.Error(err))
			continue
		}
		res.Accepted[c.Face] += c.Quantity
		res.Amount += c.Face * c.Quantity
		metrics.RecordDeposit(strconv.Itoa(c.Face), c.Quantity)
	}
	if err := sess.RecordDeposit(res.Amount); err != nil {
		// checkDepositFits bounds the amount by the session headroom
		m.log.Error("session ledger overflow after check", zap.String("session", sess.ID), zap.Error(err))
	}
	res.Total = sess.Total()
	metrics.SetInventoryValue(m.inventory.TotalValue())
	m.mu.Unlock()

	if res.Amount > 0 {
		m.record(ctx, models.CoinTransaction{
			SessionID:       res.SessionID,
			TransactionType: models.TransactionDeposit,
			Amount:          res.Amount,
			Coins:           res.Accepted,
		})
	}
	m.log.Info("Coins deposited",
		zap.String("session", res.SessionID),
		zap.Int("amount", res.Amount),
		zap.Int("depositTotal", res.Total),
		zap.Int("rejected", len(res.Rejected)))
	return res, nil
}

// Purchase buys an item costing price with the session's deposit. The deposit
// must cover the price and the machine must be able to pay the difference back;
// only then are the change coins removed and the ledger cleared. On failure
// neither the inventory nor the ledger changes.
func (m *machine) Purchase(ctx context.Context, sessionID string, price int) (PurchaseResult, error) {
	if price < 0 {
		metrics.RecordPurchase("invalid")
		return PurchaseResult{}, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}

	m.mu.Lock()
	sess := m.sessions.Get(sessionID)
	res := PurchaseResult{SessionID: sess.ID, Price: price}
	changeAmount, err := sess.ConsumeForPurchase(price, func(amount int) error {
		change, err := m.inventory.MakeChange(amount)
		if err != nil {
			return err
		}
		res.Change = change
		return nil
	})
	total := sess.Total()
	if err == nil {
		metrics.SetInventoryValue(m.inventory.TotalValue())
	}
	m.mu.Unlock()

	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientDeposit):
			metrics.RecordPurchase("insufficient_deposit")
		case errors.Is(err, ErrInsufficientChange):
			metrics.RecordPurchase("insufficient_change")
		default:
			metrics.RecordPurchase("invalid")
		}
		m.log.Warn("purchase rejected",
			zap.String("session", res.SessionID),
			zap.Int("price", price),
			zap.Int("depositTotal", total),
			zap.Error(err))
		return PurchaseResult{}, err
	}
	res.ChangeAmount = changeAmount
	metrics.RecordPurchase("success")

	m.record(ctx, models.CoinTransaction{
		SessionID:       res.SessionID,
		TransactionType: models.TransactionPurchase,
		Amount:          res.ChangeAmount,
		Price:           price,
		Coins:           res.Change,
	})
	m.log.Info("Item purchased successfully",
		zap.String("session", res.SessionID),
		zap.Int("price", price),
		zap.Int("change", res.ChangeAmount))
	return res, nil
}

// checkDepositFits makes sure the value of the supported coins fits both into the
// machine total and into the session total. Callers hold m.mu.
func (m *machine) checkDepositFits(sess *Session, coins []Coin) error {
	headroom := min(m.inventory.Headroom(), sess.Headroom())
	value := 0
	for _, c := range coins {
		if !m.inventory.Supports(c.Face) {
			continue
		}
		if c.Quantity > (headroom-value)/c.Face {
			return &QuantityError{Face: c.Face, Quantity: c.Quantity}
		}
		value += c.Face * c.Quantity
	}
	return nil
}

func (m *machine) DepositTotal(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Get(sessionID).Total()
}

func (m *machine) Coins() map[int]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory.Snapshot()
}

func (m *machine) TotalValue() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory.TotalValue()
}

func (m *machine) Supports(face int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory.Supports(face)
}

func (m *machine) Reset() {
	m.mu.Lock()
	m.inventory.ResetToDefault()
	total := m.inventory.TotalValue()
	m.mu.Unlock()

	metrics.SetInventoryValue(total)
	m.log.Info("Machine coins reset to default", zap.Int("total", total))
}

func (m *machine) LoadState(table map[int]int) error {
	m.mu.Lock()
	err := m.inventory.LoadState(table)
	total := m.inventory.TotalValue()
	m.mu.Unlock()

	if err != nil {
		return err
	}
	metrics.SetInventoryValue(total)
	m.log.Info("Machine state loaded", zap.Int("denominations", len(table)), zap.Int("total", total))
	return nil
}

func (m *machine) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.List()
}

func (m *machine) record(ctx context.Context, tx models.CoinTransaction) {
	tx.ConnectionID = ConnectionID(ctx)
	if err := m.journal.InsertTransaction(ctx, tx); err != nil {
		m.log.Warn("failed to journal transaction",
			zap.String("session", tx.SessionID),
			zap.String("type", tx.TransactionType),
			zap.Error(err))
	}
}
