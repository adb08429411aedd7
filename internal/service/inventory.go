package service

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrUnsupportedDenomination = errors.New("unsupported denomination")
	ErrInvalidQuantity         = errors.New("invalid coin quantity")
	ErrInsufficientChange      = errors.New("not enough change in machine")
	ErrNoUnitCoin              = errors.New("denomination set has no unit coin")
)

// QuantityError reports a coin count that is negative or would overflow the
// machine's counters.
type QuantityError struct {
	Face     int
	Quantity int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("%s: %d of %d", ErrInvalidQuantity, e.Quantity, e.Face)
}

func (e *QuantityError) Unwrap() error {
	return ErrInvalidQuantity
}

// DefaultCoins returns the startup table: every GBP coin in pence, five of each.
func DefaultCoins() map[int]int {
	return map[int]int{1: 5, 2: 5, 5: 5, 10: 5, 20: 5, 50: 5, 100: 5, 200: 5}
}

// Inventory holds the coins inside the machine. The set of denominations is fixed
// at construction; only the counts change. Inventory is not safe for concurrent
// use, the machine serialises access to it.
type Inventory struct {
	// largest face value first
	denominations []int
	defaults      map[int]int
	current       map[int]int
}

// NewInventory builds an inventory whose supported denominations are the keys of
// defaults. A unit coin (face value 1) is required so that any amount up to the
// total value can be decomposed.
func NewInventory(defaults map[int]int) (*Inventory, error) {
	if len(defaults) == 0 {
		return nil, errors.New("empty denomination table")
	}
	if _, ok := defaults[1]; !ok {
		return nil, ErrNoUnitCoin
	}
	denoms := make([]int, 0, len(defaults))
	for face, qty := range defaults {
		if face <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedDenomination, face)
		}
		if qty < 0 {
			return nil, fmt.Errorf("%w: %d of %d", ErrInvalidQuantity, qty, face)
		}
		denoms = append(denoms, face)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(denoms)))

	inv := &Inventory{
		denominations: denoms,
		defaults:      copyCoins(defaults),
	}
	inv.current = copyCoins(inv.defaults)
	return inv, nil
}

// Denominations returns the supported face values in ascending order.
func (inv *Inventory) Denominations() []int {
	out := make([]int, len(inv.denominations))
	for i, face := range inv.denominations {
		out[len(out)-1-i] = face
	}
	return out
}

func (inv *Inventory) Supports(face int) bool {
	_, ok := inv.defaults[face]
	return ok
}

func (inv *Inventory) TotalValue() int {
	total := 0
	for face, qty := range inv.current {
		total += face * qty
	}
	return total
}

func (inv *Inventory) Snapshot() map[int]int {
	return copyCoins(inv.current)
}

func (inv *Inventory) Deposit(face, quantity int) error {
	if !inv.Supports(face) {
		return fmt.Errorf("%w: %d", ErrUnsupportedDenomination, face)
	}
	if quantity < 0 || quantity > (math.MaxInt-inv.TotalValue())/face {
		return &QuantityError{Face: face, Quantity: quantity}
	}
	inv.current[face] += quantity
	return nil
}

// Headroom is the value that can still be added before TotalValue overflows.
func (inv *Inventory) Headroom() int {
	return math.MaxInt - inv.TotalValue()
}

// PlanChange computes the change for amount without touching the counts. Coins
// are taken greedily from the largest denomination down, each denomination
// exhausted as far as it fits before moving on. The plan fails when the amount
// exceeds the machine total or the available coins cannot reach exactly zero.
func (inv *Inventory) PlanChange(amount int) (map[int]int, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative amount %d", ErrInsufficientChange, amount)
	}
	if amount > inv.TotalValue() {
		return nil, fmt.Errorf("%w: need %d, machine holds %d", ErrInsufficientChange, amount, inv.TotalValue())
	}

	change := make(map[int]int)
	remaining := amount
	for _, face := range inv.denominations {
		if remaining == 0 {
			break
		}
		take := min(inv.current[face], remaining/face)
		if take > 0 {
			change[face] = take
			remaining -= take * face
		}
	}
	if remaining != 0 {
		return nil, fmt.Errorf("%w: %d left over after exhausting coins", ErrInsufficientChange, remaining)
	}
	return change, nil
}

// Withdraw removes the coins of a plan. Nothing is removed when any count would
// go negative.
func (inv *Inventory) Withdraw(change map[int]int) error {
	for face, qty := range change {
		if !inv.Supports(face) {
			return fmt.Errorf("%w: %d", ErrUnsupportedDenomination, face)
		}
		if qty < 0 || inv.current[face] < qty {
			return fmt.Errorf("%w: cannot take %d of %d", ErrInsufficientChange, qty, face)
		}
	}
	for face, qty := range change {
		inv.current[face] -= qty
	}
	return nil
}

// MakeChange plans and withdraws the change for amount in one step.
func (inv *Inventory) MakeChange(amount int) (map[int]int, error) {
	change, err := inv.PlanChange(amount)
	if err != nil {
		return nil, err
	}
	if err := inv.Withdraw(change); err != nil {
		return nil, err
	}
	return change, nil
}

func (inv *Inventory) ResetToDefault() {
	inv.current = copyCoins(inv.defaults)
}

// LoadState overrides the default counts with table and replaces the current
// counts with the result. Denominations missing from table keep their previous
// default. The whole table is rejected if any entry is invalid or the resulting
// total value would overflow.
func (inv *Inventory) LoadState(table map[int]int) error {
	merged := copyCoins(inv.defaults)
	for face, qty := range table {
		if !inv.Supports(face) {
			return fmt.Errorf("%w: %d", ErrUnsupportedDenomination, face)
		}
		if qty < 0 {
			return &QuantityError{Face: face, Quantity: qty}
		}
		merged[face] = qty
	}
	total := 0
	for face, qty := range merged {
		if qty > (math.MaxInt-total)/face {
			return &QuantityError{Face: face, Quantity: qty}
		}
		total += face * qty
	}
	inv.defaults = merged
	inv.current = copyCoins(inv.defaults)
	return nil
}

// CoinsValue sums face value times quantity.
func CoinsValue(coins map[int]int) int {
	total := 0
	for face, qty := range coins {
		total += face * qty
	}
	return total
}

func copyCoins(in map[int]int) map[int]int {
	out := make(map[int]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
