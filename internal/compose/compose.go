// Package compose turns an analysis text plus its cited sources into the
// final bounded-length answer: sources ranked by domain trust, greedily
// packed under the character budget, and the classifier label on top.
package compose

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/verificaicode/verifica-ai/internal/classify"
	"github.com/verificaicode/verifica-ai/internal/types"
)

// domainConfidence is the static trust table used to rank sources. Domains
// not listed rank at zero and always come after every listed one.
var domainConfidence = map[string]float64{
	"weather.com":               1.00,
	"bbc.com":                   0.95,
	"g1.globo.com":              0.92,
	"reuters.com":               0.92,
	"apnews.com":                0.91,
	"folha.uol.com.br":          0.91,
	"estadao.com.br":            0.90,
	"nytimes.com":               0.90,
	"snopes.com":                0.90,
	"nexojornal.com.br":         0.89,
	"politifact.com":            0.89,
	"npr.org":                   0.89,
	"oglobo.globo.com":          0.89,
	"uol.com.br":                0.88,
	"theguardian.com":           0.88,
	"cnnbrasil.com.br":          0.87,
	"poder360.com.br":           0.86,
	"veja.abril.com.br":         0.85,
	"theglobeandmail.com":       0.85,
	"elpais.com":                0.84,
	"correiobraziliense.com.br": 0.83,
	"cbc.ca":                    0.83,
	"cbsnews.com":               0.83,
	"aljazeera.com":             0.82,
	"cartacapital.com.br":       0.81,
	"dw.com":                    0.80,
	"r7.com":                    0.80,
	"foxnews.com":               0.75,
}

const sourcesHeader = "\n\nFontes:\n"

// Composer assembles the final answer.
type Composer struct {
	oracle classify.Oracle
	budget int
	logger *zap.Logger
}

// New creates a Composer with the given character budget.
func New(oracle classify.Oracle, budget int, logger *zap.Logger) *Composer {
	if budget <= 0 {
		budget = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{oracle: oracle, budget: budget, logger: logger}
}

// Compose builds the final answer. The classifier sees only the analysis
// text, never the sources block.
func (c *Composer) Compose(ctx context.Context, analysisText string, sources []types.RankedSource) (string, error) {
	body := analysisText + sourcesBlock(analysisText, sources, c.budget)

	verdict, err := c.oracle.Classify(ctx, analysisText)
	if err != nil {
		return "", fmt.Errorf("classifying answer: %w", err)
	}

	c.logger.Debug("composed",
		zap.Int("class", verdict.Class),
		zap.Int("len", len(body)))

	return fmt.Sprintf("%s\n\n%s", verdict.Label(), body), nil
}

// Rank orders sources by descending domain confidence. The sort is stable:
// equal-confidence sources keep their citation order.
func Rank(sources []types.RankedSource) []types.RankedSource {
	ranked := make([]types.RankedSource, len(sources))
	copy(ranked, sources)
	sort.SliceStable(ranked, func(i, j int) bool {
		return domainConfidence[ranked[i].Domain] > domainConfidence[ranked[j].Domain]
	})
	return ranked
}

// sourcesBlock appends ranked sources one at a time, stopping before the
// first source that would push the combined text over the budget. Strictly
// greedy in rank order: a later shorter source never takes a dropped one's
// place.
func sourcesBlock(analysisText string, sources []types.RankedSource, budget int) string {
	var block string
	var acc []string

	for _, src := range Rank(sources) {
		acc = append(acc, src.URI)
		candidate := sourcesHeader + strings.Join(acc, "\n\n")
		if len(analysisText)+len(candidate) > budget {
			break
		}
		block = candidate
	}
	return block
}
