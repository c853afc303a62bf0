package transform

import (
	"fmt"
	"strings"
)

// MergePolicy decides what happens to a stored column when a row with the same natural key
// is upserted again.
type MergePolicy int

const (
	// Overwrite replaces the stored value.
	Overwrite MergePolicy = iota
	// InsertOnly writes the value on insert and never touches it afterwards.
	InsertOnly
	// Least keeps the smaller of the stored and incoming values.
	Least
	// Greatest keeps the larger of the stored and incoming values.
	Greatest
)

func (p MergePolicy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case InsertOnly:
		return "insert_only"
	case Least:
		return "least"
	case Greatest:
		return "greatest"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Column is a non-key target column.
type Column struct {
	Name   string
	Policy MergePolicy
	// Cast is appended to the placeholder, e.g. "jsonb".
	Cast string
}

// Row is one normalized candidate keyed by column name.
type Row map[string]any

// Parent is a row that must exist before a child row is committed. Missing parents are seeded
// with the shared columns and zeroes; existing ones are left alone.
type Parent struct {
	Table   string
	Columns []string
	Zeroes  []string
}

func (p Parent) statement() string {
	cols := append(append([]string{}, p.Columns...), p.Zeroes...)
	values := make([]string, 0, len(cols))
	for i := range p.Columns {
		values = append(values, fmt.Sprintf("$%d", i+1))
	}
	for range p.Zeroes {
		values = append(values, "0")
	}

	return fmt.Sprintf("INSERT INTO public.%s (%s)\nVALUES (%s)\nON CONFLICT (%s) DO NOTHING",
		p.Table, strings.Join(cols, ", "), strings.Join(values, ", "), strings.Join(p.Columns, ", "))
}

// args returns the parent key values of row, or false when any of them is missing.
func (p Parent) args(row Row) ([]any, bool) {
	args := make([]any, 0, len(p.Columns))
	for _, col := range p.Columns {
		v, ok := row[col]
		if !ok || isBlank(v) {
			return nil, false
		}
		args = append(args, v)
	}
	return args, true
}

// upsertStatement builds the INSERT ... ON CONFLICT statement for a table. Placeholders follow
// the key columns first and then the value columns, the order used by upsertArgs.
func upsertStatement(table string, keys []string, columns []Column) string {
	names := make([]string, 0, len(keys)+len(columns))
	values := make([]string, 0, len(keys)+len(columns))
	for _, k := range keys {
		names = append(names, k)
		values = append(values, fmt.Sprintf("$%d", len(values)+1))
	}
	for _, c := range columns {
		names = append(names, c.Name)
		placeholder := fmt.Sprintf("$%d", len(values)+1)
		if c.Cast != "" {
			placeholder += "::" + c.Cast
		}
		values = append(values, placeholder)
	}

	var sets []string
	for _, c := range columns {
		switch c.Policy {
		case Overwrite:
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c.Name, c.Name))
		case Least:
			sets = append(sets, fmt.Sprintf("%s = LEAST(%s.%s, EXCLUDED.%s)", c.Name, table, c.Name, c.Name))
		case Greatest:
			sets = append(sets, fmt.Sprintf("%s = GREATEST(%s.%s, EXCLUDED.%s)", c.Name, table, c.Name, c.Name))
		case InsertOnly:
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO public.%s (%s)\nVALUES (%s)\nON CONFLICT (%s) ", table,
		strings.Join(names, ", "), strings.Join(values, ", "), strings.Join(keys, ", "))
	if len(sets) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET\n    ")
		b.WriteString(strings.Join(sets, ",\n    "))
	}

	return b.String()
}

func upsertArgs(row Row, keys []string, columns []Column) []any {
	args := make([]any, 0, len(keys)+len(columns))
	for _, k := range keys {
		args = append(args, row[k])
	}
	for _, c := range columns {
		args = append(args, row[c.Name])
	}
	return args
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case *string:
		return t == nil || strings.TrimSpace(*t) == ""
	}
	return false
}
