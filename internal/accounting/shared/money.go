package shared

import (
	"github.com/shopspring/decimal"

	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrSubCent indicates an amount with digits beyond the cent.
var ErrSubCent = core.Validation("sub_cent_amount", "amounts carry at most two decimal places")

// WholeCents reports whether d is stored without loss in a NUMERIC(18,2) column.
func WholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}
