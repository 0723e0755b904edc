package referentiel

import (
	"github.com/sells-group/product-fusion/internal/attribute"
)

// BrandNormalizer maps brand spellings to a canonical brand.
type BrandNormalizer struct {
	aliases map[string]string
}

// NewBrandNormalizer builds a normalizer from an alias → canonical table.
func NewBrandNormalizer(aliases map[string]string) *BrandNormalizer {
	n := &BrandNormalizer{aliases: make(map[string]string, len(aliases))}
	for alias, canonical := range aliases {
		n.aliases[attribute.Fold(alias)] = attribute.Fold(canonical)
	}
	return n
}

// Normalize upper-cases, strips diacritics, collapses whitespace and
// resolves aliases.
func (n *BrandNormalizer) Normalize(brand string) string {
	b := attribute.Fold(brand)
	if canonical, ok := n.aliases[b]; ok {
		return canonical
	}
	return b
}
