package roster

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"hermes/internal/portal"
)

// Source produces raw recipient records in their natural order. A fetch
// failure is a resolution failure: it aborts the whole job before any
// delivery attempt.
type Source interface {
	Fetch(ctx context.Context) ([]Recipient, error)
	// Describe identifies the source in logs and reports.
	Describe() string
}

// Remote pulls one event table from the portal.
type Remote struct {
	Portal *portal.Client
	Creds  string
	Table  string
}

func (r Remote) Describe() string { return "table " + r.Table }

func (r Remote) Fetch(ctx context.Context) ([]Recipient, error) {
	rows, err := r.Portal.Table(ctx, r.Creds, r.Table)
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(rows))
	for _, row := range rows {
		out = append(out, Recipient{ID: row.ID, Name: row.Name, Phone: string(row.Phone)})
	}
	return out, nil
}

// Local reads an uploaded delimited sheet from disk. The file is deleted
// after the read, exactly once, whether or not parsing succeeded.
type Local struct {
	Path string
}

func (l Local) Describe() string { return "upload" }

func (l Local) Fetch(ctx context.Context) (recs []Recipient, err error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", l.Path, err)
	}
	defer func() {
		f.Close()
		if rmErr := os.Remove(l.Path); rmErr != nil && err == nil {
			err = fmt.Errorf("upload %s: cleanup: %w", l.Path, rmErr)
		}
	}()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("upload %s: read header: %w", l.Path, err)
	}
	idCol, nameCol, phoneCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "id":
			idCol = i
		case "name":
			nameCol = i
		case "phone":
			phoneCol = i
		}
	}
	if idCol < 0 || nameCol < 0 || phoneCol < 0 {
		return nil, fmt.Errorf("upload %s: missing required columns (need id, name, phone)", l.Path)
	}

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("upload %s: read row: %w", l.Path, err)
		}
		id, err := strconv.Atoi(strings.TrimSpace(row[idCol]))
		if err != nil {
			return nil, fmt.Errorf("upload %s: invalid id %q", l.Path, row[idCol])
		}
		recs = append(recs, Recipient{
			ID:    id,
			Name:  strings.TrimSpace(row[nameCol]),
			Phone: strings.TrimSpace(row[phoneCol]),
		})
	}
	return recs, nil
}
