package state

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"vending-machine/pkg"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("state file not found")

// строка вида "coin,quantity"
var lineRe = regexp.MustCompile(`^\d+,\d+$`)

// LoadFile reads a startup coin table from path. A missing file returns
// ErrNotFound so the caller can keep the defaults.
func LoadFile(path string, supports func(face int) bool, log pkg.Logger) (map[int]int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	return Parse(f, supports, log)
}

// Parse reads "coin,quantity" lines. Malformed lines and unsupported coins are
// logged and skipped; a later line for the same coin wins.
func Parse(r io.Reader, supports func(face int) bool, log pkg.Logger) (map[int]int, error) {
	table := make(map[int]int)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !lineRe.MatchString(line) {
			log.Warn("invalid state line, expected 'int,int'", zap.Int("line", lineNo), zap.String("text", line))
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		face, err := strconv.Atoi(parts[0])
		if err != nil {
			log.Warn("invalid coin value", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		qty, err := strconv.Atoi(parts[1])
		if err != nil {
			log.Warn("invalid coin quantity", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if supports != nil && !supports(face) {
			log.Warn("coin does not exist", zap.Int("line", lineNo), zap.Int("denomination", face))
			continue
		}
		table[face] = qty
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return table, nil
}
