package domain

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Bill is a single recurring expense record.
type Bill struct {
	ID          int64  `json:"id"`
	Category    string `json:"category"`
	Year        int    `json:"year,omitempty"`
	Month       int    `json:"month,omitempty"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      Amount `json:"amount"`
}

// Period returns the year the bill belongs to. Records without a year field
// fall back to the year of their date. Zero means unknown.
func (b Bill) Period() int {
	if b.Year != 0 {
		return b.Year
	}
	if len(b.Date) < 4 {
		return 0
	}
	if d, err := time.Parse(time.DateOnly, b.Date); err == nil {
		return d.Year()
	}
	y, err := strconv.Atoi(b.Date[:4])
	if err != nil {
		return 0
	}
	return y
}

// Amount keeps the raw decimal text of a monetary value. The resources send it
// either as a JSON number or as a string.
type Amount string

// UnmarshalJSON accepts a JSON string, number or null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = ""
	case data[0] == '"':
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
	default:
		*a = Amount(data)
	}
	return nil
}

// MarshalJSON writes the amount as a JSON string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(string(a))
}

// Float coerces the amount to a number. Anything that does not parse to a
// finite value counts as zero. A decimal comma is accepted.
func (a Amount) Float() float64 {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
