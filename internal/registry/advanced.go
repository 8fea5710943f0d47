package registry

import (
	"context"
	"encoding/json"
	"strings"
)

type Operator string

const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
)

// ParseOperator normalizes user input; anything other than "or" is AND.
func ParseOperator(s string) Operator {
	if strings.EqualFold(strings.TrimSpace(s), string(OperatorOr)) {
		return OperatorOr
	}
	return OperatorAnd
}

// AdvancedQuery targets condition and intervention fields separately.
type AdvancedQuery struct {
	Condition            string
	Intervention         string
	Operator             Operator
	IncludeObservational bool
}

// BuildQuery composes the field-scoped query.term expression.
func (q AdvancedQuery) BuildQuery() (string, error) {
	var parts []string
	if c := strings.TrimSpace(q.Condition); c != "" {
		parts = append(parts, "AREA[ConditionSearch]"+c)
	}
	if i := strings.TrimSpace(q.Intervention); i != "" {
		parts = append(parts, "AREA[InterventionSearch]"+i)
	}
	if len(parts) == 0 {
		return "", &Error{Op: "advanced search", Err: ErrNoSearchTerms}
	}
	query := strings.Join(parts, " "+string(ParseOperator(string(q.Operator)))+" ")
	if !q.IncludeObservational {
		query = "(" + query + ") AND AREA[StudyType]Interventional"
	}
	return query, nil
}

// DisplayTopic is the human label for an advanced search: "condition + intervention",
// or whichever term was given.
func (q AdvancedQuery) DisplayTopic() string {
	c := strings.TrimSpace(q.Condition)
	i := strings.TrimSpace(q.Intervention)
	switch {
	case c != "" && i != "":
		return c + " + " + i
	case c != "":
		return c
	default:
		return i
	}
}

func (c *Client) SearchAdvanced(ctx context.Context, q AdvancedQuery) ([]json.RawMessage, error) {
	query, err := q.BuildQuery()
	if err != nil {
		return nil, err
	}
	c.log.Info("clinicaltrials advanced query built", "query", query)
	return c.Search(ctx, query)
}
