package batch

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/infra/rpc/routing"
)

var (
	errNoResult  = errors.New("no result returned for operation")
	errMissingID = errors.New("response carries no id")
)

// ClassifyResult maps one result slot to Success, Failure or Unknown.
// Success needs a 2xx code, a generated id and no embedded error object.
func ClassifyResult(r *domain.RawResult) domain.Outcome {
	if r == nil {
		return domain.Outcome{Kind: domain.OutcomeUnknown, Err: errNoResult}
	}

	if apiErr := provider.ParseErrorBody(r.Code, r.Body); apiErr != nil {
		if routing.Classify(apiErr).Kind == domain.DecisionAmbiguousTransient {
			return domain.Outcome{Kind: domain.OutcomeUnknown, Err: apiErr}
		}
		return domain.Outcome{Kind: domain.OutcomeFailure, Err: apiErr}
	}

	if !r.OK() {
		return domain.Outcome{
			Kind: domain.OutcomeFailure,
			Err:  &provider.APIError{StatusCode: r.Code, Message: fmt.Sprintf("unexpected result body %q", r.Body)},
		}
	}

	id := gjson.Get(r.Body, "id").String()
	if id == "" {
		return domain.Outcome{Kind: domain.OutcomeFailure, Err: errMissingID}
	}
	return domain.Outcome{Kind: domain.OutcomeSuccess, ID: id}
}

// ClassifyPair combines the parent and child outcomes of pair index.
func ClassifyPair(index int, spec domain.PairSpec, parent, child *domain.RawResult) domain.PairResult {
	pr := domain.PairResult{Index: index, Name: spec.Name, Attempts: 1}

	p := ClassifyResult(parent)
	switch p.Kind {
	case domain.OutcomeFailure:
		pr.State = domain.PairTotalFailure
		pr.Err = p.Err
		return pr
	case domain.OutcomeUnknown:
		pr.State = domain.PairUnknown
		pr.Err = p.Err
		return pr
	}

	pr.ParentID = p.ID
	c := ClassifyResult(child)
	switch c.Kind {
	case domain.OutcomeSuccess:
		pr.ChildID = c.ID
		pr.State = domain.PairComplete
	case domain.OutcomeFailure:
		pr.State = domain.PairOrphan
		pr.Err = c.Err
	default:
		pr.State = domain.PairUnknown
		pr.Err = c.Err
	}
	return pr
}

// ClassifyPairs walks results two at a time. offset is the run-wide index of
// specs[0]. Missing slots count as Unknown.
func ClassifyPairs(results []*domain.RawResult, specs []domain.PairSpec, offset int) []domain.PairResult {
	out := make([]domain.PairResult, len(specs))
	for i, spec := range specs {
		out[i] = ClassifyPair(offset+i, spec, slot(results, 2*i), slot(results, 2*i+1))
	}
	return out
}

func slot(results []*domain.RawResult, i int) *domain.RawResult {
	if i < len(results) {
		return results[i]
	}
	return nil
}
