// Package serial handles the data-matrix serial numbers printed on boards.
//
// A standard serial is VLLDDDxxxxxxx*: a seven digit running number at
// [6:13]. DCDC serials start with '!' and carry a four digit number at
// [6:10]. Boards on a panel are numbered consecutively.
package serial

import (
	"fmt"
	"strconv"
	"strings"
)

// MinLength is the shortest serial that carries a running number.
const MinLength = 15

func counterSpan(s string) (lo, hi int) {
	if strings.HasPrefix(s, "!") {
		return 6, 10
	}
	return 6, 13
}

func counter(s string) (n, lo, hi int, err error) {
	if len(s) < MinLength {
		return 0, 0, 0, fmt.Errorf("serial %q is shorter than %d characters", s, MinLength)
	}
	lo, hi = counterSpan(s)
	n, err = strconv.Atoi(s[lo:hi])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("serial %q: running number %q is not numeric", s, s[lo:hi])
	}
	return n, lo, hi, nil
}

func withCounter(s string, n, lo, hi int) string {
	return s[:lo] + fmt.Sprintf("%0*d", hi-lo, n) + s[hi:]
}

// Increment returns the serials of a panel of boards whose first board is
// start. Short or malformed serials yield just start.
func Increment(start string, boards int) []string {
	out := []string{start}
	if boards < 2 {
		return out
	}
	n, lo, hi, err := counter(start)
	if err != nil {
		return out
	}
	for i := 1; i < boards; i++ {
		out = append(out, withCounter(start, n+i, lo, hi))
	}
	return out
}

// Generate returns every serial on the panel given the serial of the board
// at 1-based position.
func Generate(s string, position, boards int) ([]string, error) {
	if boards < 2 {
		return []string{s}, nil
	}
	if position < 1 || position > boards {
		return nil, fmt.Errorf("position %d outside panel of %d", position, boards)
	}
	n, lo, hi, err := counter(s)
	if err != nil {
		return nil, err
	}
	first := n - (position - 1)
	if first < 0 {
		return nil, fmt.Errorf("serial %q cannot be at position %d", s, position)
	}
	out := make([]string, 0, boards)
	for i := 0; i < boards; i++ {
		out = append(out, withCounter(s, first+i, lo, hi))
	}
	return out, nil
}

// Main returns the serial of the first board of the panel.
func Main(s string, position int) (string, error) {
	if position < 2 {
		return s, nil
	}
	n, lo, hi, err := counter(s)
	if err != nil {
		return "", err
	}
	if n-(position-1) < 0 {
		return "", fmt.Errorf("serial %q cannot be at position %d", s, position)
	}
	return withCounter(s, n-(position-1), lo, hi), nil
}
