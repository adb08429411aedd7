package state

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"vending-machine/pkg"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func supportsDefault(face int) bool {
	switch face {
	case 1, 2, 5, 10, 20, 50, 100, 200:
		return true
	}
	return false
}

func TestParse(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := pkg.NewZapLogger(zap.New(core))

	input := strings.Join([]string{
		"1,10",
		"  2,0  ",
		"",
		"5;3",
		"abc,1",
		"3,4",
		"10,-1",
		"50,7x",
		"200,2",
		"1,12",
	}, "\n")

	got, err := Parse(strings.NewReader(input), supportsDefault, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[int]int{1: 12, 2: 0, 200: 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if logs.Len() != 5 {
		t.Errorf("expected 5 warnings for skipped lines, got %d", logs.Len())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.csv")
	if err := os.WriteFile(path, []byte("1,100\n100,0\n"), 0o600); err != nil {
		t.Fatalf("failed to write state file: %v", err)
	}

	got, err := LoadFile(path, supportsDefault, pkg.NewZapLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, map[int]int{1: 100, 100: 0}) {
		t.Errorf("unexpected table: %v", got)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.csv"), supportsDefault, pkg.NewZapLogger(zap.NewNop()))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
