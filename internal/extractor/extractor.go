package extractor

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
)

// Chain tries strategies in order; the first one yielding candidates wins
type Chain struct {
	strategies []Strategy
	log        *logger.Logger
}

// New creates the default chain: embedded JSON first, then markup selectors
func New(sel Selectors, log *logger.Logger) *Chain {
	return NewChain(log, NextDataStrategy{}, NewMarkupStrategy(sel))
}

// NewChain creates a chain over arbitrary strategies
func NewChain(log *logger.Logger, strategies ...Strategy) *Chain {
	if log == nil {
		log = logger.ForExtractor()
	}
	return &Chain{strategies: strategies, log: log}
}

// Extract implements Extractor. Zero candidates is not an error; it marks the
// end of the result pages.
func (c *Chain) Extract(body []byte) ([]model.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewParsing("extractor", "failed to parse page", fmt.Errorf("goquery: %w", err))
	}

	for _, strategy := range c.strategies {
		listings, skipped := strategy.Extract(doc)
		if skipped > 0 {
			c.log.Debug().
				Str("strategy", strategy.Name()).
				Int("skipped", skipped).
				Msg("Skipped incomplete candidates")
		}
		if len(listings) > 0 {
			c.log.Debug().
				Str("strategy", strategy.Name()).
				Int("candidates", len(listings)).
				Msg("Extracted candidates")
			return listings, nil
		}
	}
	return nil, nil
}
