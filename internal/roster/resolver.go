package roster

import (
	"context"
	"strings"
)

// Resolver turns a raw source plus an id selection into the final ordered
// recipient list: filter by id, trim pipe-delimited phones, apply the
// country prefix. Source order is preserved; no re-sorting.
type Resolver struct {
	// CountryCode is prefixed to bare 10-digit numbers. Default "91".
	CountryCode string
}

func (r Resolver) Resolve(ctx context.Context, src Source, sel Selection) ([]Recipient, error) {
	raw, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(raw))
	for _, rec := range raw {
		if !sel.Contains(rec.ID) {
			continue
		}
		rec.Phone = r.normalizePhone(rec.Phone)
		out = append(out, rec)
	}
	return out, nil
}

// normalizePhone keeps the substring after the last '|' (sheets sometimes
// carry "country|number") and prefixes bare 10-digit numbers with the
// country code.
func (r Resolver) normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if i := strings.LastIndexByte(phone, '|'); i >= 0 {
		phone = phone[i+1:]
	}
	cc := r.CountryCode
	if cc == "" {
		cc = "91"
	}
	if len(phone) == 10 {
		phone = cc + phone
	}
	return phone
}
