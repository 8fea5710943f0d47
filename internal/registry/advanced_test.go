package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdvancedQueryBuild(t *testing.T) {
	cases := []struct {
		name string
		q    AdvancedQuery
		want string
	}{
		{"condition only", AdvancedQuery{Condition: "Alzheimer", IncludeObservational: true}, "AREA[ConditionSearch]Alzheimer"},
		{"intervention only", AdvancedQuery{Intervention: " donepezil ", IncludeObservational: true}, "AREA[InterventionSearch]donepezil"},
		{"and", AdvancedQuery{Condition: "Alzheimer", Intervention: "donepezil", Operator: OperatorAnd, IncludeObservational: true}, "AREA[ConditionSearch]Alzheimer AND AREA[InterventionSearch]donepezil"},
		{"or lowercase", AdvancedQuery{Condition: "Alzheimer", Intervention: "donepezil", Operator: "or", IncludeObservational: true}, "AREA[ConditionSearch]Alzheimer OR AREA[InterventionSearch]donepezil"},
		{"interventional only", AdvancedQuery{Condition: "Alzheimer", Intervention: "donepezil"}, "(AREA[ConditionSearch]Alzheimer AND AREA[InterventionSearch]donepezil) AND AREA[StudyType]Interventional"},
	}
	for _, tc := range cases {
		got, err := tc.q.BuildQuery()
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestAdvancedQueryRequiresATerm(t *testing.T) {
	_, err := AdvancedQuery{Condition: "  ", IncludeObservational: true}.BuildQuery()
	if !errors.Is(err, ErrNoSearchTerms) {
		t.Fatalf("expected ErrNoSearchTerms, got %v", err)
	}
	if !IsRegistryError(err) {
		t.Fatalf("expected registry error wrapper, got %T", err)
	}
}

func TestAdvancedQueryDisplayTopic(t *testing.T) {
	if got := (AdvancedQuery{Condition: "Asthma", Intervention: "Dupilumab"}).DisplayTopic(); got != "Asthma + Dupilumab" {
		t.Fatalf("unexpected topic %q", got)
	}
	if got := (AdvancedQuery{Intervention: "Dupilumab"}).DisplayTopic(); got != "Dupilumab" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestSearchAdvancedDelegatesToSearch(t *testing.T) {
	var term string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		term = r.URL.Query().Get("query.term")
		_, _ = io.WriteString(w, studiesPage(1, 0, ""))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.Client(), 0)
	got, err := c.SearchAdvanced(context.Background(), AdvancedQuery{Condition: "Asthma", IncludeObservational: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || term != "AREA[ConditionSearch]Asthma" {
		t.Fatalf("expected field-scoped query, got %q (%d studies)", term, len(got))
	}

	if _, err := c.SearchAdvanced(context.Background(), AdvancedQuery{}); !errors.Is(err, ErrNoSearchTerms) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
