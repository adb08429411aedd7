package service

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrInsufficientDeposit = errors.New("insufficient deposit")
	ErrDepositOverflow     = errors.New("deposit total overflow")
)

// DefaultSessionID is used by clients that do not name a session.
const DefaultSessionID = "default"

// Session is the deposit ledger of one client between purchases.
type Session struct {
	ID    string
	total int
}

func (s *Session) Total() int {
	return s.total
}

// RecordDeposit credits amount to the ledger. Non-positive amounts are ignored;
// an amount that would overflow the total is refused and leaves it unchanged.
func (s *Session) RecordDeposit(amount int) error {
	if amount <= 0 {
		return nil
	}
	if amount > s.Headroom() {
		return fmt.Errorf("%w: total %d, adding %d", ErrDepositOverflow, s.total, amount)
	}
	s.total += amount
	return nil
}

// Headroom is the amount that can still be credited without overflow.
func (s *Session) Headroom() int {
	return math.MaxInt - s.total
}

func (s *Session) Reset() {
	s.total = 0
}

// ConsumeForPurchase spends the deposit on an item costing price. settle is
// handed the change still owed to the client and must pay it out; the ledger is
// reset only once settle succeeds, so a failed payout keeps the deposit intact.
func (s *Session) ConsumeForPurchase(price int, settle func(change int) error) (int, error) {
	if s.total < price {
		return 0, fmt.Errorf("%w: deposited %d, price %d", ErrInsufficientDeposit, s.total, price)
	}
	change := s.total - price
	if err := settle(change); err != nil {
		return 0, err
	}
	s.total = 0
	return change, nil
}

type SessionInfo struct {
	ID    string `json:"id"`
	Total int    `json:"deposit_total"`
}

// Sessions keeps one ledger per client session id.
type Sessions struct {
	byID map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{byID: make(map[string]*Session)}
}

// Get returns the ledger for id, creating an empty one on first use. An empty
// id maps to the default session.
func (s *Sessions) Get(id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}
	sess, ok := s.byID[id]
	if !ok {
		sess = &Session{ID: id}
		s.byID[id] = sess
	}
	return sess
}

func (s *Sessions) List() []SessionInfo {
	out := make([]SessionInfo, 0, len(s.byID))
	for id, sess := range s.byID {
		out = append(out, SessionInfo{ID: id, Total: sess.total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
