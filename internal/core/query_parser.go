package core

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
)

/*
Job filters use a small query language:

Query       := Expr
Expr        := OrExpr ( "OR" OrExpr )*
OrExpr      := Condition ( "AND" Condition )*
Condition   := "NOT"? ( Filter | "(" Expr ")" )
Filter      := <identifier> Op Value
Op          := "CONTAINS" | "<" | ">" | "="
Value       := <string> | <number>

Numbers may only be compared against progress.
*/

var filterFields = map[string]struct{}{
	"id":            {},
	"type":          {},
	"status":        {},
	"experiment_id": {},
	"progress":      {},
}

var (
	parser = participle.MustBuild[QueryExpr](
		participle.Unquote("String"),
		participle.Union[Value](StringValue{}, NumberValue{}),
	)
)

func ParseQuery(query string) (Filter, error) {
	q, err := parser.ParseString("", query)
	if err != nil {
		return nil, fmt.Errorf("error parsing query '%s': %w", query, err)
	}

	filter, err := q.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("error converting query '%s' to filter: %w", query, err)
	}

	return filter, nil
}

type QueryExpr struct {
	Expr *Expr `@@`
}

func (q *QueryExpr) ToFilter() (Filter, error) {
	return q.Expr.ToFilter()
}

func (q *QueryExpr) String() string {
	return q.Expr.String()
}

type Expr struct {
	Ors []*OrExpr `@@ ( "OR" @@ )*`
}

func (e *Expr) ToFilter() (Filter, error) {
	if len(e.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}

	if len(e.Ors) == 1 {
		return e.Ors[0].ToFilter()
	}

	filters := make([]Filter, 0, len(e.Ors))
	for _, cond := range e.Ors {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &OrFilter{filters: filters}, nil
}

func (e *Expr) String() string {
	return joinClauses(e.Ors, " OR ")
}

type OrExpr struct {
	Ands []*Condition `@@ ( "AND" @@ )*`
}

func (o *OrExpr) ToFilter() (Filter, error) {
	if len(o.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}

	if len(o.Ands) == 1 {
		return o.Ands[0].ToFilter()
	}

	filters := make([]Filter, 0, len(o.Ands))
	for _, cond := range o.Ands {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &AndFilter{filters: filters}, nil
}

func (o *OrExpr) String() string {
	return joinClauses(o.Ands, " AND ")
}

func joinClauses[T fmt.Stringer](clauses []T, sep string) string {
	if len(clauses) == 0 {
		return ""
	}
	if len(clauses) == 1 {
		return clauses[0].String()
	}
	out := fmt.Sprintf("(%s)", clauses[0].String())
	for _, c := range clauses[1:] {
		out += fmt.Sprintf("%s(%s)", sep, c.String())
	}
	return out
}

type Condition struct {
	Not     bool        `@"NOT"?`
	Filter  *FilterExpr `( @@`
	SubExpr *Expr       `| "(" @@ ")" )`
}

func (c *Condition) ToFilter() (Filter, error) {
	var filter Filter
	var err error
	if c.Filter != nil {
		filter, err = c.Filter.ToFilter()
	} else if c.SubExpr != nil {
		filter, err = c.SubExpr.ToFilter()
	} else {
		err = fmt.Errorf("empty condition")
	}

	if err != nil {
		return nil, err
	}

	if c.Not {
		filter = &NotFilter{filter: filter}
	}

	return filter, nil
}

func (c *Condition) String() string {
	var out string
	if c.SubExpr != nil {
		out = c.SubExpr.String()
	} else {
		out = c.Filter.String()
	}
	if c.Not {
		return fmt.Sprintf("NOT (%s)", out)
	}
	return out
}

type FilterExpr struct {
	Field string `@Ident`
	Op    string `@("CONTAINS" | "<" | ">" | "=")`
	Value Value  `@@`
}

func (f *FilterExpr) ToFilter() (Filter, error) {
	if _, ok := filterFields[f.Field]; !ok {
		return nil, fmt.Errorf("unknown job field %q", f.Field)
	}

	if n, ok := f.Value.(NumberValue); ok {
		if f.Field != "progress" {
			return nil, fmt.Errorf("numeric comparison is only supported for progress, not %s", f.Field)
		}
		switch f.Op {
		case "<":
			return &ProgressFilter{min: -1, max: n.Value}, nil
		case ">":
			return &ProgressFilter{min: n.Value, max: 101}, nil
		case "=":
			// Progress is stored as a float, match within half a percent.
			return &ProgressFilter{min: n.Value - 0.5, max: n.Value + 0.5}, nil
		default:
			return nil, fmt.Errorf("invalid operator %s used with a number", f.Op)
		}
	}

	s, ok := f.Value.(StringValue)
	if !ok {
		return nil, fmt.Errorf("unsupported value %v", f.Value)
	}

	switch f.Op {
	case "CONTAINS":
		return &SubstringFilter{label: f.Field, substr: s.Value}, nil
	case "<":
		return &StringLtFilter{label: f.Field, value: s.Value}, nil
	case ">":
		return &StringGtFilter{label: f.Field, value: s.Value}, nil
	case "=":
		return &StringEqFilter{label: f.Field, value: s.Value}, nil
	default:
		return nil, fmt.Errorf("invalid operator %s used with string value", f.Op)
	}
}

func (f *FilterExpr) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}

type Value interface{ value() }

type StringValue struct {
	Value string `@String`
}

func (s StringValue) value() {}

func (s StringValue) String() string {
	return fmt.Sprintf("%q", s.Value)
}

type NumberValue struct {
	Value float64 `@(Float | Int)`
}

func (n NumberValue) value() {}

func (n NumberValue) String() string {
	return fmt.Sprintf("%g", n.Value)
}
