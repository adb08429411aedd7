package main

import (
	"reflect"
	"testing"
)

func TestParseCoins(t *testing.T) {
	got, err := parseCoins([]string{"1=2", " 5 = 1", "1=1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := map[int]int{1: 3, 5: 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	for _, bad := range []string{"1", "x=1", "1=y"} {
		if _, err := parseCoins([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestBuildRequest(t *testing.T) {
	if _, err := buildRequest(nil, -1, ""); err == nil {
		t.Errorf("expected error for empty request")
	}

	req, err := buildRequest([]string{"2=1"}, 1, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Session != "alice" || req.Deposit == nil || req.Purchase == nil || req.Purchase.Value != 1 {
		t.Errorf("unexpected request: %+v", req)
	}

	req, err = buildRequest(nil, 3, "")
	if err != nil || req.Deposit != nil || req.Purchase.Value != 3 {
		t.Errorf("unexpected purchase only request: %+v, %v", req, err)
	}
}
