package extract

import (
	"context"
	"strings"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

// FallbackConfidence is the fixed trust score for keyword-rule extraction.
const FallbackConfidence = 0.5

// IntentBuy and IntentSell are the labels the fallback can assign.
const (
	IntentBuy  = "Buy"
	IntentSell = "Sell"
)

// Fallback is the deterministic keyword-rule extractor used when the gateway
// is disabled or returns nothing usable. It never performs I/O.
type Fallback struct {
	buyKeywords  []string
	sellKeywords []string
}

var _ ports.Extractor = (*Fallback)(nil)

// NewFallback builds an extractor with the given keyword lists; nil lists
// fall back to the defaults. Buy keywords are always checked before sell
// keywords, and list order decides ties inside a stage.
func NewFallback(buyKeywords, sellKeywords []string) *Fallback {
	if buyKeywords == nil {
		buyKeywords = []string{"buy", "bid"}
	}
	if sellKeywords == nil {
		sellKeywords = []string{"sell", "offer"}
	}
	return &Fallback{buyKeywords: buyKeywords, sellKeywords: sellKeywords}
}

// Analyze scans the lower-cased text for the first matching keyword and takes
// the following token as the item name. A message with no keyword, or a
// keyword with nothing after it, yields no extraction at all — near-empty
// records must not reach storage.
func (f *Fallback) Analyze(_ context.Context, text string) ([]domain.Extraction, error) {
	tokens := strings.Fields(strings.ToLower(text))

	if item, ok := firstItemAfter(tokens, f.buyKeywords); ok {
		return []domain.Extraction{{Intent: IntentBuy, ItemName: item}}, nil
	}
	if item, ok := firstItemAfter(tokens, f.sellKeywords); ok {
		return []domain.Extraction{{Intent: IntentSell, ItemName: item}}, nil
	}
	return nil, nil
}

func firstItemAfter(tokens, keywords []string) (string, bool) {
	for _, keyword := range keywords {
		for i, token := range tokens {
			if token != keyword {
				continue
			}
			if i+1 >= len(tokens) {
				// Keyword is the last token: nothing follows it here,
				// but remaining keywords may still match.
				continue
			}
			return strings.ToUpper(tokens[i+1]), true
		}
	}
	return "", false
}
