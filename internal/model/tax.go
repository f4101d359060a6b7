package model

import "strconv"

// TaxCategory groups catalog 07 affectation codes
type TaxCategory int

const (
	CategoryUnknown TaxCategory = iota
	CategoryTaxed
	CategoryExempt
	CategoryUnaffected
	CategoryFree
)

// TaxScheme is the catalog 05 tribute a category is reported under
type TaxScheme struct {
	ID       string
	Name     string
	TypeCode string
}

var taxSchemes = map[TaxCategory]TaxScheme{
	CategoryTaxed:      {ID: "1000", Name: "IGV", TypeCode: "VAT"},
	CategoryExempt:     {ID: "9997", Name: "EXO", TypeCode: "VAT"},
	CategoryUnaffected: {ID: "9998", Name: "INA", TypeCode: "FRE"},
	CategoryFree:       {ID: "9996", Name: "GRA", TypeCode: "FRE"},
}

// AffectationCategory maps an affectation code to its category.
// 10-16 taxed, 20-21 exempt, 30-36 unaffected, 40-49 free of charge.
func AffectationCategory(code string) TaxCategory {
	n, err := strconv.Atoi(code)
	if err != nil {
		return CategoryUnknown
	}
	switch {
	case n >= 10 && n <= 16:
		return CategoryTaxed
	case n >= 20 && n <= 21:
		return CategoryExempt
	case n >= 30 && n <= 36:
		return CategoryUnaffected
	case n >= 40 && n <= 49:
		return CategoryFree
	default:
		return CategoryUnknown
	}
}

// IsTaxedAffectation reports whether the code carries IGV
func IsTaxedAffectation(code string) bool {
	return AffectationCategory(code) == CategoryTaxed
}

// SchemeFor returns the tax scheme of a category
func SchemeFor(c TaxCategory) (TaxScheme, bool) {
	s, ok := taxSchemes[c]
	return s, ok
}
