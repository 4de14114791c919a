package engine

import (
	"context"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const (
	codeFilterMinCapacity = 1024
	codeFilterFPR         = 0.001
)

// CodeFilter is a probabilistic set of known coupon codes. It answers "maybe"
// or "definitely not": a negative answer lets the engine discard a bogus
// coupon submission without touching the promotion store, while the rare
// false positive just falls through to a full evaluation.
type CodeFilter struct {
	filter *bloom.BloomFilter
}

// NewCodeFilter builds a filter over the given codes.
func NewCodeFilter(codes []string) *CodeFilter {
	capacity := uint(len(codes))
	if capacity < codeFilterMinCapacity {
		capacity = codeFilterMinCapacity
	}
	f := bloom.NewWithEstimates(capacity, codeFilterFPR)
	for _, code := range codes {
		if code != "" {
			f.AddString(code)
		}
	}
	return &CodeFilter{filter: f}
}

// LoadCodeFilter builds a CodeFilter from all coupon codes known to the store.
func LoadCodeFilter(ctx context.Context, promotions promotion.Repository) (*CodeFilter, error) {
	codes, err := promotions.ListCodes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list promotion codes")
	}
	return NewCodeFilter(codes), nil
}

// MayContain reports whether the code could be a known coupon code.
func (f *CodeFilter) MayContain(code string) bool {
	return f.filter.TestString(code)
}
