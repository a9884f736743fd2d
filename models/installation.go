package models

import "time"

// InstallationStatus gates whether an installation may originate new tasks.
type InstallationStatus string

const (
	InstallationStatusActive   InstallationStatus = "active"
	InstallationStatusArchived InstallationStatus = "archived"
)

// Installation binds a GitHub App installation 1:1 to an escrow wallet.
// WalletAddress and WalletSecretEnc are set together when the wallet is
// provisioned; both nil means no wallet is bound yet, which blocks every
// escrow operation with a validation error.
type Installation struct {
	ID           string `gorm:"primaryKey" json:"id"` // GitHub installation id
	AccountLogin string `gorm:"index" json:"account_login"`

	WalletAddress   *string `gorm:"type:varchar(128);uniqueIndex" json:"wallet_address,omitempty"`
	// KMS envelope (base64) of the wallet signing secret. Never serialized.
	WalletSecretEnc *string `gorm:"type:text" json:"-"`

	Status InstallationStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`

	// User ids of installation members allowed to act on its tasks.
	MemberIDs []string `gorm:"serializer:json" json:"member_ids"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasWallet reports whether a wallet is fully bound.
func (i *Installation) HasWallet() bool {
	return i.WalletAddress != nil && *i.WalletAddress != "" &&
		i.WalletSecretEnc != nil && *i.WalletSecretEnc != ""
}
