package patchbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// Filter is a jq query that is evaluated for the JSON payload of pull
// request events.
// A pull request is only processed if the query evaluates to true.
type Filter struct {
	query *gojq.Query
}

func NewFilter(jqQuery string) (*Filter, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing jq query %q failed: %w", jqQuery, err)
	}

	return &Filter{query: query}, nil
}

// Match evaluates the query for the JSON document.
// The query must return exactly one boolean value.
func (f *Filter) Match(ctx context.Context, eventJSON []byte) (bool, error) {
	var evUn any

	if len(eventJSON) == 0 {
		return false, errors.New("event json is empty")
	}

	if err := json.Unmarshal(eventJSON, &evUn); err != nil {
		return false, fmt.Errorf("unmarshaling event failed: %w", err)
	}

	var matched *bool
	var results int
	var errs []error

	iter := f.query.RunWithContext(ctx, evUn)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}

		if err, isErr := v.(error); isErr {
			errs = append(errs, err)
			continue
		}

		results++
		if b, isBool := v.(bool); isBool {
			matched = &b
			continue
		}

		return false, fmt.Errorf("filter %q evaluated to %+v (%T), expected a bool", f.query, v, v)
	}

	if len(errs) != 0 {
		return false, fmt.Errorf("evaluating filter %q failed: %w", f.query, errors.Join(errs...))
	}

	if results != 1 || matched == nil {
		return false, fmt.Errorf("filter %q evaluated to %d values, expected exactly 1", f.query, results)
	}

	return *matched, nil
}

func (f *Filter) String() string {
	return f.query.String()
}
