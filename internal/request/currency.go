package request

import "strings"

// CurrencyPolicy maps requested currencies onto ones the processor can settle.
type CurrencyPolicy struct {
	fallbacks map[string]string
	supported map[string]struct{}
}

func NewCurrencyPolicy(fallbacks map[string]string, supported []string) *CurrencyPolicy {
	p := &CurrencyPolicy{
		fallbacks: make(map[string]string, len(fallbacks)),
		supported: make(map[string]struct{}, len(supported)),
	}
	for from, to := range fallbacks {
		p.fallbacks[normalize(from)] = normalize(to)
	}
	for _, cur := range supported {
		if cur = normalize(cur); cur != "" {
			p.supported[cur] = struct{}{}
		}
	}
	return p
}

// Resolve returns the settlement currency and the normalized original.
func (p *CurrencyPolicy) Resolve(currency string) (settlement, original string) {
	original = normalize(currency)
	settlement = original
	if p == nil {
		return settlement, original
	}
	if to, ok := p.fallbacks[original]; ok {
		settlement = to
	}
	return settlement, original
}

// Supports reports whether the processor is configured to charge in currency.
// An empty supported list allows everything and defers to the processor.
func (p *CurrencyPolicy) Supports(currency string) bool {
	if p == nil || len(p.supported) == 0 {
		return true
	}
	_, ok := p.supported[normalize(currency)]
	return ok
}

func normalize(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}
