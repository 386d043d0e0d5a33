package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor units (paise, cents).
type Amount int64

var ErrAmountOverflow = errors.New("amount overflow")

func (a Amount) Int64() int64 {
	return int64(a)
}

// MulMinutes multiplies a per-minute rate by a number of minutes.
func (a Amount) MulMinutes(minutes int) (Amount, error) {
	if minutes < 0 || a < 0 {
		return 0, fmt.Errorf("negative operand: rate=%d minutes=%d", a, minutes)
	}
	if minutes == 0 || a == 0 {
		return 0, nil
	}
	if int64(a) > math.MaxInt64/int64(minutes) {
		return 0, ErrAmountOverflow
	}
	return a * Amount(minutes), nil
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return fmt.Errorf("invalid amount %s", string(data))
		}
		raw = number.String()
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAmount reads a decimal major-unit string such as "12.50" into minor units.
func ParseAmount(raw string) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	negative := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	whole, frac, _ := strings.Cut(raw, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", raw)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("invalid amount %q: expected digits with an optional two-digit fraction", raw)
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if major > (math.MaxInt64-minor)/100 {
		return 0, ErrAmountOverflow
	}
	value := Amount(major*100 + minor)
	if negative {
		value = -value
	}
	return value, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
