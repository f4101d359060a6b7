package assembler

// NoteCatalog maps note reason codes to their descriptions
type NoteCatalog map[string]string

// Contains reports whether code belongs to the catalog
func (c NoteCatalog) Contains(code string) bool {
	_, ok := c[code]
	return ok
}

// CreditNoteReasons is catalog 09
var CreditNoteReasons = NoteCatalog{
	"01": "Anulación de la operación",
	"02": "Anulación por error en el RUC",
	"03": "Corrección por error en la descripción",
	"04": "Descuento global",
	"05": "Descuento por ítem",
	"06": "Devolución total",
	"07": "Devolución por ítem",
	"08": "Bonificación",
	"09": "Disminución en el valor",
	"10": "Otros conceptos",
	"11": "Ajustes de operaciones de exportación",
	"12": "Ajustes afectos al IVAP",
	"13": "Corrección del monto neto pendiente de pago y/o las fechas de vencimiento",
}

// DebitNoteReasons is catalog 10
var DebitNoteReasons = NoteCatalog{
	"01": "Intereses por mora",
	"02": "Aumento en el valor",
	"03": "Penalidades/ otros conceptos",
	"11": "Ajustes de operaciones de exportación",
	"12": "Ajustes afectos al IVAP",
}

// catalog 06
var identityTypes = map[string]bool{
	"0": true,
	"1": true,
	"4": true,
	"6": true,
	"7": true,
	"A": true,
}

func identityType(code string) string {
	if identityTypes[code] {
		return code
	}
	return "0"
}

const (
	defaultCurrency   = "PEN"
	defaultUnitCode   = "NIU"
	defaultUbigeo     = "000000"
	defaultCountry    = "PE"
	defaultVoidReason = "Error en emisión"
	signatureID       = "IDSignKG"

	priceTypeOnerous = "01"
	priceTypeFree    = "02"
)
