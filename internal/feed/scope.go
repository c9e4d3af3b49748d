package feed

import (
	"encoding/json"
	"fmt"
)

// Filter is an equality match on one column of the event row.
type Filter struct {
	Column string
	Value  string
}

// Scope is the (table, filter) pair a subscription listens on.
// An empty Table matches every table.
type Scope struct {
	Table  string
	Filter *Filter
}

func Table(name string) Scope {
	return Scope{Table: name}
}

// AnyTable receives every event the transport delivers.
var AnyTable = Scope{}

// Where narrows the scope to rows whose column equals value.
func (s Scope) Where(column, value string) Scope {
	s.Filter = &Filter{Column: column, Value: value}
	return s
}

func (s Scope) Matches(ev Event) bool {
	if s.Table != "" && s.Table != ev.Table {
		return false
	}
	if s.Filter == nil {
		return true
	}
	raw, err := field(ev.Row(), s.Filter.Column)
	if err != nil || len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return val == s.Filter.Value
	case nil:
		return s.Filter.Value == ""
	default:
		return fmt.Sprint(val) == s.Filter.Value
	}
}

func (s Scope) String() string {
	table := s.Table
	if table == "" {
		table = "*"
	}
	if s.Filter == nil {
		return table
	}
	return fmt.Sprintf("%s[%s=%s]", table, s.Filter.Column, s.Filter.Value)
}
