package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Score is a one-decimal review score held in tenths (8.5 == 85).
type Score int64

// Cents is a two-decimal currency amount held in hundredths.
type Cents int64

func ParseScore(s string) (Score, error) {
	v, err := parseFixed(s, 1)
	return Score(v), err
}

func ParseCents(s string) (Cents, error) {
	v, err := parseFixed(s, 2)
	return Cents(v), err
}

func (s Score) String() string { return formatFixed(int64(s), 1) }
func (c Cents) String() string { return formatFixed(int64(c), 2) }

func (s Score) MarshalJSON() ([]byte, error) { return []byte(s.String()), nil }
func (c Cents) MarshalJSON() ([]byte, error) { return []byte(c.String()), nil }

func (s *Score) UnmarshalJSON(b []byte) error {
	v, err := unmarshalFixed(b, 1)
	*s = Score(v)
	return err
}

func (c *Cents) UnmarshalJSON(b []byte) error {
	v, err := unmarshalFixed(b, 2)
	*c = Cents(v)
	return err
}

func unmarshalFixed(b []byte, scale int) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err2 := json.Unmarshal(b, &s); err2 != nil {
			return 0, err
		}
		n = json.Number(s)
	}
	return parseFixed(n.String(), scale)
}

// parseFixed parses a decimal string exactly, rejecting more fractional
// digits than scale allows.
func parseFixed(s string, scale int) (int64, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, nil
	}
	neg := strings.HasPrefix(in, "-")
	in = strings.TrimLeft(in, "+-")
	whole, frac, _ := strings.Cut(in, ".")
	if len(frac) > scale {
		if strings.Trim(frac[scale:], "0") != "" {
			return 0, fmt.Errorf("%q has more than %d decimal places", s, scale)
		}
		frac = frac[:scale]
	}
	frac += strings.Repeat("0", scale-len(frac))
	if whole == "" {
		whole = "0"
	}
	v, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q", s)
	}
	if neg {
		v = -v
	}
	return v, nil
}

func formatFixed(v int64, scale int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	div := int64(1)
	for i := 0; i < scale; i++ {
		div *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, v/div, scale, v%div)
}
