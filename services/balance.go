package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VerifyAssetBalance checks that the account holds a trustline for assetCode
// and that its balance covers required. The two failure modes carry distinct
// messages: a missing line means "establish a trustline", a short balance
// means "deposit funds".
func VerifyAssetBalance(balances []Balance, assetCode string, required decimal.Decimal) error {
	for _, b := range balances {
		if b.AssetCode != assetCode {
			continue
		}
		if b.Amount.LessThan(required) {
			return &ValidationError{Reason: fmt.Sprintf(
				"Insufficient balance: %s %s available, %s required",
				b.Amount.String(), assetCode, required.String(),
			)}
		}
		return nil
	}
	return &ValidationError{Reason: fmt.Sprintf("%s trustline not found", assetCode)}
}
