package api

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"vending-machine/internal/service"
	"vending-machine/pkg"

	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T, coins map[int]int) (*Dispatcher, service.MachineService) {
	t.Helper()
	inv, err := service.NewInventory(coins)
	if err != nil {
		t.Fatalf("failed to create inventory: %v", err)
	}
	log := pkg.NewZapLogger(zap.NewNop())
	m := service.NewMachineService(inv, nil, log)
	return NewDispatcher(m, log), m
}

func dispatch(t *testing.T, d *Dispatcher, raw string) Response {
	t.Helper()
	resp, err := d.Dispatch(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	return resp
}

func TestDispatch_Deposit(t *testing.T) {
	d, m := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 1, "2": 1}}}`)
	if !resp.Success || resp.Response != RespDepositOK {
		t.Fatalf("expected successful deposit, got %+v", resp)
	}
	if resp.DepositTotal == nil || *resp.DepositTotal != 3 {
		t.Errorf("expected deposit_total 3, got %v", resp.DepositTotal)
	}
	if len(resp.Errors) != 0 || resp.Coins != nil {
		t.Errorf("unexpected fields: %+v", resp)
	}
	if m.TotalValue() != 1943 {
		t.Errorf("expected machine total 1943, got %d", m.TotalValue())
	}
}

func TestDispatch_Deposit_BadCoinIgnored(t *testing.T) {
	d, _ := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 1, "22": 1, "x": 4}}}`)
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if *resp.DepositTotal != 1 {
		t.Errorf("expected deposit_total 1, got %d", *resp.DepositTotal)
	}
	want := Errors{
		"Invalid key found in json : '22'. Skipping value.",
		"Invalid key found in json : 'x'. Skipping value.",
	}
	if !reflect.DeepEqual(resp.Errors, want) {
		t.Errorf("expected errors %v, got %v", want, resp.Errors)
	}
}

func TestDispatch_Deposit_AllInvalidKeepsTotal(t *testing.T) {
	d, m := newTestDispatcher(t, service.DefaultCoins())
	dispatch(t, d, `{"deposit": {"coins": {"5": 1}}}`)
	before := m.Coins()

	resp := dispatch(t, d, `{"deposit": {"coins": {"999": 3}}}`)
	if !resp.Success || *resp.DepositTotal != 5 {
		t.Fatalf("expected unchanged deposit_total 5, got %+v", resp)
	}
	if len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0], "'999'") {
		t.Errorf("expected error for key 999, got %v", resp.Errors)
	}
	if !reflect.DeepEqual(m.Coins(), before) {
		t.Errorf("inventory changed")
	}
}

func TestDispatch_Deposit_MissingCoins(t *testing.T) {
	d, _ := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"deposit": {"coin": {"1": 1}}}`)
	if resp.Success || resp.Response != RespFail {
		t.Fatalf("expected failure, got %+v", resp)
	}
	if resp.Errors[0] != errNoCoins {
		t.Errorf("unexpected error: %v", resp.Errors)
	}
}

func TestDispatch_Deposit_MalformedQuantity(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative", `{"deposit": {"coins": {"1": 2, "2": -1}}}`},
		{"fraction", `{"deposit": {"coins": {"1": 2, "2": 1.5}}}`},
		{"string", `{"deposit": {"coins": {"1": 2, "2": "3"}}}`},
		{"exponent", `{"deposit": {"coins": {"1": 2, "2": 1e2}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, m := newTestDispatcher(t, service.DefaultCoins())

			resp := dispatch(t, d, tt.body)
			if resp.Success {
				t.Fatalf("expected failure, got %+v", resp)
			}
			if len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0], "coin '2'") {
				t.Errorf("unexpected errors: %v", resp.Errors)
			}
			if m.TotalValue() != 1940 || m.DepositTotal("") != 0 {
				t.Errorf("state changed by malformed deposit")
			}
		})
	}
}

func TestDispatch_PurchaseWithChange(t *testing.T) {
	d, m := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 1, "2": 1}}, "purchase": {"value": 1}}`)
	if !resp.Success || resp.Response != RespPurchaseOK {
		t.Fatalf("expected successful purchase, got %+v", resp)
	}
	if !reflect.DeepEqual(resp.Coins, map[int]int{2: 1}) {
		t.Errorf("expected change {2:1}, got %v", resp.Coins)
	}
	if m.DepositTotal("") != 0 {
		t.Errorf("ledger not reset")
	}
}

func TestDispatch_PurchaseExact(t *testing.T) {
	d, _ := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 1, "2": 1}}, "purchase": {"value": 3}}`)
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	raw, err := resp.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if strings.Contains(string(raw), `"coins"`) {
		t.Errorf("exact payment must not carry coins: %s", raw)
	}
}

func TestDispatch_PurchaseWithoutDeposit(t *testing.T) {
	d, m := newTestDispatcher(t, service.DefaultCoins())
	dispatch(t, d, `{"deposit": {"coins": {"50": 1}}}`)

	resp := dispatch(t, d, `{"purchase": {"value": 3}}`)
	if resp.Success {
		t.Fatalf("expected failure, got %+v", resp)
	}
	if !strings.Contains(strings.ToLower(resp.Errors[0]), "deposit") {
		t.Errorf("error should mention deposit: %v", resp.Errors)
	}
	if m.DepositTotal("") != 50 || m.TotalValue() != 1990 {
		t.Errorf("state changed by rejected purchase")
	}
}

func TestDispatch_PurchaseTooExpensive(t *testing.T) {
	d, m := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 1, "2": 1}}, "purchase": {"value": 4}}`)
	if resp.Success {
		t.Fatalf("expected failure, got %+v", resp)
	}
	if resp.Errors[0] != errLowDeposit {
		t.Errorf("unexpected error: %v", resp.Errors)
	}
	// the bundled deposit stays committed
	if *resp.DepositTotal != 3 || m.DepositTotal("") != 3 {
		t.Errorf("expected deposit 3 kept, got %d", m.DepositTotal(""))
	}
}

func TestDispatch_DoubleDeposit(t *testing.T) {
	d, _ := newTestDispatcher(t, service.DefaultCoins())
	dispatch(t, d, `{"deposit": {"coins": {"1": 1, "2": 1}}}`)

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 1, "2": 1}}, "purchase": {"value": 4}}`)
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if !reflect.DeepEqual(resp.Coins, map[int]int{2: 1}) {
		t.Errorf("expected change {2:1}, got %v", resp.Coins)
	}
}

func TestDispatch_PurchaseMissingValue(t *testing.T) {
	d, _ := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 1}}, "purchase": {"price": 1}}`)
	if resp.Success || resp.Errors[0] != errNoValue {
		t.Fatalf("expected missing value failure, got %+v", resp)
	}
}

func TestDispatch_PurchaseNotEnoughChange(t *testing.T) {
	d, m := newTestDispatcher(t, map[int]int{1: 0, 2: 0, 100: 0})

	resp := dispatch(t, d, `{"deposit": {"coins": {"100": 1}}, "purchase": {"value": 1}}`)
	if resp.Success || resp.Errors[0] != errLowChange {
		t.Fatalf("expected change failure, got %+v", resp)
	}
	if *resp.DepositTotal != 100 || m.TotalValue() != 100 {
		t.Errorf("funds lost on failed purchase")
	}
}

func TestDispatch_Sessions(t *testing.T) {
	d, m := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"session": "alice", "deposit": {"coins": {"10": 1}}}`)
	if resp.Session != "alice" || *resp.DepositTotal != 10 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	resp = dispatch(t, d, `{"session": "bob", "deposit": {"coins": {}}, "purchase": {"value": 5}}`)
	if resp.Success {
		t.Fatalf("bob spent alice's deposit: %+v", resp)
	}
	if m.DepositTotal("alice") != 10 {
		t.Errorf("alice's deposit changed")
	}

	resp = dispatch(t, d, `{"session": 7, "deposit": {"coins": {"1": 1}}}`)
	if resp.Success || resp.Errors[0] != errBadSession {
		t.Errorf("expected session type failure, got %+v", resp)
	}
}

func TestDispatch_NoAction(t *testing.T) {
	d, _ := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"hello": 1}`)
	if resp.Success || resp.Errors[0] != errNoAction {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatch_ParseFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, service.DefaultCoins())

	for _, raw := range []string{"", "{", "[1,2]", `{"deposit": }`} {
		resp, err := d.Dispatch(context.Background(), []byte(raw))
		if !errors.Is(err, ErrMalformedRequest) {
			t.Errorf("%q: expected ErrMalformedRequest, got %v", raw, err)
		}
		if resp.Success || !strings.Contains(strings.ToLower(resp.Errors[0]), "value error") {
			t.Errorf("%q: unexpected response %+v", raw, resp)
		}
	}
}

func TestResponse_Encode(t *testing.T) {
	resp := Response{
		Response:     RespDepositOK,
		Success:      true,
		DepositTotal: intPtr(0),
		Errors:       Errors{"b", "a"},
	}
	raw, err := resp.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := "{\n" +
		"    \"response\": \"Successful deposit.\",\n" +
		"    \"success\": true,\n" +
		"    \"deposit_total\": 0,\n" +
		"    \"errors\": {\n" +
		"        \"0\": \"b\",\n" +
		"        \"1\": \"a\"\n" +
		"    }\n" +
		"}"
	if string(raw) != want {
		t.Errorf("unexpected encoding:\n%s", raw)
	}

	var back Response
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(back.Errors, Errors{"b", "a"}) {
		t.Errorf("errors order lost: %v", back.Errors)
	}
}

func TestErrors_UnmarshalShapes(t *testing.T) {
	var e Errors
	if err := json.Unmarshal([]byte(`"boom"`), &e); err != nil || !reflect.DeepEqual(e, Errors{"boom"}) {
		t.Errorf("string shape: %v %v", e, err)
	}
	if err := json.Unmarshal([]byte(`["x","y"]`), &e); err != nil || !reflect.DeepEqual(e, Errors{"x", "y"}) {
		t.Errorf("list shape: %v %v", e, err)
	}
}

func TestDispatch_Deposit_OverflowingQuantity(t *testing.T) {
	tests := []struct {
		name string
		body string
		coin string
	}{
		{"single coin value", `{"deposit": {"coins": {"2": 4611686018427387904}}}`, "coin '2'"},
		{"machine total", `{"deposit": {"coins": {"200": 46116860184273879}}}`, "coin '200'"},
		{"beyond int", `{"deposit": {"coins": {"1": 99999999999999999999}}}`, "coin '1'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, m := newTestDispatcher(t, service.DefaultCoins())

			resp := dispatch(t, d, tt.body)
			if resp.Success {
				t.Fatalf("expected failure, got %+v", resp)
			}
			if len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0], tt.coin) {
				t.Errorf("unexpected errors: %v", resp.Errors)
			}
			if m.TotalValue() != 1940 || m.DepositTotal("") != 0 {
				t.Errorf("state changed by overflowing deposit: total %d, deposit %d", m.TotalValue(), m.DepositTotal(""))
			}

			resp = dispatch(t, d, `{"deposit": {"coins": {"1": 3}}, "purchase": {"value": 3}}`)
			if !resp.Success {
				t.Errorf("expected later exact purchase to succeed, got %+v", resp)
			}
		})
	}
}

func TestDispatch_Deposit_OverflowAcrossSessionTotal(t *testing.T) {
	d, m := newTestDispatcher(t, map[int]int{1: 0})

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 9223372036854775000}}}`)
	if !resp.Success {
		t.Fatalf("expected first deposit to succeed, got %+v", resp)
	}

	resp = dispatch(t, d, `{"deposit": {"coins": {"1": 1000}}}`)
	if resp.Success {
		t.Fatalf("expected overflowing deposit to fail, got %+v", resp)
	}
	want := Errors{"Invalid quantity for coin '1': 1000"}
	if !reflect.DeepEqual(resp.Errors, want) {
		t.Errorf("expected errors %v, got %v", want, resp.Errors)
	}
	if m.DepositTotal("") != 9223372036854775000 || m.TotalValue() != 9223372036854775000 {
		t.Errorf("state changed by rejected deposit: total %d, deposit %d", m.TotalValue(), m.DepositTotal(""))
	}
}

func TestDispatch_Deposit_DuplicateKeyLastWins(t *testing.T) {
	d, m := newTestDispatcher(t, service.DefaultCoins())

	resp := dispatch(t, d, `{"deposit": {"coins": {"1": 1, "1": 2}}}`)
	if !resp.Success || *resp.DepositTotal != 2 {
		t.Fatalf("expected deposit_total 2, got %+v", resp)
	}
	if m.TotalValue() != 1942 {
		t.Errorf("expected machine total 1942, got %d", m.TotalValue())
	}

	resp = dispatch(t, d, `{"deposit": {"coins": {"2": -1, "2": 1, "x": 1, "x": 2}}}`)
	if !resp.Success || *resp.DepositTotal != 4 {
		t.Fatalf("expected the last valid value to count, got %+v", resp)
	}
	want := Errors{"Invalid key found in json : 'x'. Skipping value."}
	if !reflect.DeepEqual(resp.Errors, want) {
		t.Errorf("expected errors %v, got %v", want, resp.Errors)
	}
}
