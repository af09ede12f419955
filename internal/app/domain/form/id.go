package form

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/greenhospital/reporting/internal/app/domain/period"
)

// ID encodes a form id as {hospitalID}-{MM}-{YYYY}.
func ID(hospitalID string, m period.Month) string {
	return fmt.Sprintf("%s-%02d-%04d", hospitalID, int(m.Month), m.Year)
}

// ParseID splits a form id at its last two hyphens.
//
// A string that merely looks like {x}-{NN}-{NNNN} decodes as a form id, so a
// bare hospital id such as "ward-07-2024" cannot be told apart from the form
// id of hospital "ward" for July 2024.
func ParseID(id string) (string, period.Month, error) {
	last := strings.LastIndex(id, "-")
	if last <= 0 {
		return "", period.Month{}, fmt.Errorf("invalid form id %q", id)
	}
	prev := strings.LastIndex(id[:last], "-")
	if prev <= 0 {
		return "", period.Month{}, fmt.Errorf("invalid form id %q", id)
	}

	hospitalID, mm, yyyy := id[:prev], id[prev+1:last], id[last+1:]
	if len(mm) != 2 || len(yyyy) != 4 || !digits(mm) || !digits(yyyy) {
		return "", period.Month{}, fmt.Errorf("invalid form id %q: want {hospital}-MM-YYYY", id)
	}
	month, err := strconv.Atoi(mm)
	if err != nil || month < 1 || month > 12 {
		return "", period.Month{}, fmt.Errorf("invalid form id %q: bad month %q", id, mm)
	}
	year, err := strconv.Atoi(yyyy)
	if err != nil {
		return "", period.Month{}, fmt.Errorf("invalid form id %q: bad year %q", id, yyyy)
	}
	return hospitalID, period.Month{Year: year, Month: time.Month(month)}, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
