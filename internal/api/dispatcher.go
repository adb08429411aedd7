package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"vending-machine/internal/service"
	"vending-machine/pkg"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var ErrMalformedRequest = errors.New("cannot parse request")

const (
	errParse         = RespParseError
	errNoAction      = "No 'deposit' or 'purchase' found in json"
	errNoDeposit     = "Cannot purchase without deposit"
	errNoCoins       = "No 'coins' found in json"
	errNoValue       = "'Value' key not found in json."
	errBadValue      = "'Value' must be a non-negative whole number"
	errBadSession    = "'session' must be a string"
	errLowDeposit    = "Insufficient deposit for purchase"
	errLowChange     = "Not enough change in machine left for purchase"
	errInternal      = "Internal error"
	errInvalidKeyFmt = "Invalid key found in json : '%s'. Skipping value."
	errInvalidQtyFmt = "Invalid quantity for coin '%s': %s"
)

var wholeNumber = regexp.MustCompile(`^\d+$`)

// Dispatcher turns one decoded protocol message into one response.
type Dispatcher struct {
	machine service.MachineService
	log     pkg.Logger
}

func NewDispatcher(machine service.MachineService, log pkg.Logger) *Dispatcher {
	return &Dispatcher{machine: machine, log: log}
}

type coinEntry struct {
	key   string
	face  int
	value gjson.Result
	// key is not a whole number
	badKey bool
}

// Dispatch handles the raw message. A deposit is always processed before a
// purchase in the same message; a purchase alone is refused. The returned
// error wraps ErrMalformedRequest when raw is not a JSON object, the
// response is usable either way.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (Response, error) {
	if !gjson.ValidBytes(raw) {
		d.log.Warn("cannot parse request", zap.Int("bytes", len(raw)))
		return fail(Errors{errParse}), fmt.Errorf("%w: invalid json", ErrMalformedRequest)
	}
	msg := gjson.ParseBytes(raw)
	if !msg.IsObject() {
		d.log.Warn("request is not a json object")
		return fail(Errors{errParse}), fmt.Errorf("%w: not an object", ErrMalformedRequest)
	}

	sessionID := ""
	if s := msg.Get("session"); s.Exists() {
		if s.Type != gjson.String {
			return fail(Errors{errBadSession}), nil
		}
		sessionID = s.String()
	}

	deposit := msg.Get("deposit")
	purchase := msg.Get("purchase")

	var resp Response
	switch {
	case deposit.Exists() && purchase.Exists():
		resp = d.handleDeposit(ctx, sessionID, deposit)
		if resp.Success {
			warnings := resp.Errors
			resp = d.handlePurchase(ctx, sessionID, purchase)
			resp.Errors = append(warnings, resp.Errors...)
		}
	case deposit.Exists():
		resp = d.handleDeposit(ctx, sessionID, deposit)
	case purchase.Exists():
		d.log.Debug("purchase without deposit", zap.String("session", sessionID))
		resp = fail(Errors{errNoDeposit})
	default:
		resp = fail(Errors{errNoAction})
	}
	resp.Session = sessionID
	return resp, nil
}

func (d *Dispatcher) handleDeposit(ctx context.Context, sessionID string, deposit gjson.Result) Response {
	coins := deposit.Get("coins")
	if !deposit.IsObject() || !coins.IsObject() {
		d.log.Debug("'coins' key not found in json", zap.String("session", sessionID))
		return fail(Errors{errNoCoins})
	}

	// a repeated key keeps its first position and its last value
	var entries []coinEntry
	index := make(map[string]int)
	coins.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if i, ok := index[k]; ok {
			entries[i].value = value
			return true
		}
		index[k] = len(entries)
		face, err := strconv.Atoi(k)
		entries = append(entries, coinEntry{key: k, face: face, value: value, badKey: err != nil})
		return true
	})

	var (
		batch  []service.Coin
		badQty Errors
		rawQty = make(map[int]string)
	)
	for _, e := range entries {
		if e.badKey {
			continue
		}
		qty, ok := parseQuantity(e.face, e.value)
		if !ok {
			badQty = append(badQty, fmt.Sprintf(errInvalidQtyFmt, e.key, e.value.Raw))
			continue
		}
		rawQty[e.face] = e.value.Raw
		batch = append(batch, service.Coin{Face: e.face, Quantity: qty})
	}
	if len(badQty) > 0 {
		d.log.Warn("rejecting deposit with malformed quantities",
			zap.String("session", sessionID),
			zap.Strings("errors", badQty))
		return fail(badQty)
	}

	res, err := d.machine.Deposit(ctx, sessionID, batch)
	if err != nil {
		var qe *service.QuantityError
		if errors.As(err, &qe) {
			return fail(Errors{fmt.Sprintf(errInvalidQtyFmt, strconv.Itoa(qe.Face), rawQty[qe.Face])})
		}
		if errors.Is(err, service.ErrInvalidQuantity) {
			return fail(Errors{err.Error()})
		}
		d.log.Error("deposit failed", zap.String("session", sessionID), zap.Error(err))
		return fail(Errors{errInternal})
	}

	rejected := make(map[int]bool, len(res.Rejected))
	for _, c := range res.Rejected {
		rejected[c.Face] = true
	}
	var warnings Errors
	for _, e := range entries {
		if e.badKey || rejected[e.face] {
			msg := fmt.Sprintf(errInvalidKeyFmt, e.key)
			d.log.Warn(msg, zap.String("session", res.SessionID))
			warnings = append(warnings, msg)
		}
	}

	return Response{
		Response:     RespDepositOK,
		Success:      true,
		DepositTotal: intPtr(res.Total),
		Errors:       warnings,
	}
}

func (d *Dispatcher) handlePurchase(ctx context.Context, sessionID string, purchase gjson.Result) Response {
	value := purchase.Get("value")
	if !purchase.IsObject() || !value.Exists() {
		d.log.Debug("'value' key not found in json", zap.String("session", sessionID))
		return d.failWithTotal(sessionID, errNoValue)
	}
	if value.Type != gjson.Number || !wholeNumber.MatchString(value.Raw) {
		return d.failWithTotal(sessionID, errBadValue)
	}
	price, err := strconv.Atoi(value.Raw)
	if err != nil {
		return d.failWithTotal(sessionID, errBadValue)
	}

	res, err := d.machine.Purchase(ctx, sessionID, price)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientDeposit):
			return d.failWithTotal(sessionID, errLowDeposit)
		case errors.Is(err, service.ErrInsufficientChange):
			return d.failWithTotal(sessionID, errLowChange)
		case errors.Is(err, service.ErrInvalidPrice):
			return d.failWithTotal(sessionID, errBadValue)
		}
		d.log.Error("purchase failed", zap.String("session", sessionID), zap.Error(err))
		return d.failWithTotal(sessionID, errInternal)
	}

	resp := Response{Response: RespPurchaseOK, Success: true}
	// exact payment returns no coins field
	if res.ChangeAmount > 0 {
		resp.Coins = res.Change
	}
	return resp
}

// parseQuantity accepts a plain non-negative integer whose value in coins of
// face still fits an int.
func parseQuantity(face int, value gjson.Result) (int, bool) {
	if value.Type != gjson.Number || !wholeNumber.MatchString(value.Raw) {
		return 0, false
	}
	qty, err := strconv.Atoi(value.Raw)
	if err != nil {
		return 0, false
	}
	if face > 0 && qty > math.MaxInt/face {
		return 0, false
	}
	return qty, true
}

func (d *Dispatcher) failWithTotal(sessionID, msg string) Response {
	resp := fail(Errors{msg})
	resp.DepositTotal = intPtr(d.machine.DepositTotal(sessionID))
	return resp
}

func fail(errs Errors) Response {
	return Response{Response: RespFail, Success: false, Errors: errs}
}
