package domain

// CanonicalMap resolves wrapped, bridged, and otherwise aliased coin ids to
// the underlying asset they represent. Ids without an entry are their own
// canonical identity.
type CanonicalMap map[string]string

// Resolve returns the canonical id for coinID.
func (m CanonicalMap) Resolve(coinID string) string {
	if canonical, ok := m[coinID]; ok {
		return canonical
	}
	return coinID
}

// DefaultCanonicalMap returns the known wrapped/bridged token aliases.
func DefaultCanonicalMap() CanonicalMap {
	return CanonicalMap{
		"binance-peg-weth": "weth",
		"wrapped-steth":    "staked-ether",
		"wrapped-bitcoin":  "bitcoin",
	}
}
