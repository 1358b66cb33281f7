package notification

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidDate = errors.New("invalid due date")

// ParseDueDate parses a day/month/year or day-month-year literal. Two-digit
// years are taken as 20yy. The result is midnight UTC of that calendar date.
func ParseDueDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	sep := "/"
	if !strings.Contains(raw, sep) {
		sep = "-"
	}
	parts := strings.Split(raw, sep)
	if len(parts) != 3 {
		return time.Time{}, ErrInvalidDate
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return time.Time{}, ErrInvalidDate
		}
		nums[i] = n
	}
	day, month, year := nums[0], nums[1], nums[2]
	if len(strings.TrimSpace(parts[2])) <= 2 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, ErrInvalidDate
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31/02 into March; reject instead.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// DaysBetween returns the number of calendar days from today to due. Both
// values are reduced to their calendar date in their own location first.
func DaysBetween(today, due time.Time) int {
	a := calendarDate(today)
	b := calendarDate(due)
	return int(math.Round(b.Sub(a).Hours() / 24))
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatAmount renders a ledger amount as "R$ 1.234,56". Unparseable or
// empty amounts render as "N/A".
func FormatAmount(raw string) string {
	v, ok := parseAmount(raw)
	if !ok {
		return "N/A"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	fixed := strconv.FormatFloat(v, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(fixed, ".")
	return "R$ " + sign + groupThousands(intPart) + "," + frac
}

func parseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}
	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
