package accounts

import "time"

// AccountType enumerates chart-of-accounts classifications.
type AccountType string

const (
	TypeAsset           AccountType = "ASSET"
	TypeLiability       AccountType = "LIABILITY"
	TypeEquity          AccountType = "EQUITY"
	TypeRevenue         AccountType = "REVENUE"
	TypeExpense         AccountType = "EXPENSE"
	TypeContraAsset     AccountType = "CONTRA_ASSET"
	TypeContraLiability AccountType = "CONTRA_LIABILITY"
)

// NormalBalance marks which side conventionally increases the account.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// DefaultNormalBalance returns the conventional side for a type. Contra
// accounts carry the side opposite to the type they offset.
func DefaultNormalBalance(t AccountType) NormalBalance {
	switch t {
	case TypeAsset, TypeExpense, TypeContraLiability:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// ValidType reports whether t is a known account type.
func ValidType(t AccountType) bool {
	switch t {
	case TypeAsset, TypeLiability, TypeEquity, TypeRevenue, TypeExpense, TypeContraAsset, TypeContraLiability:
		return true
	}
	return false
}

// Account is one row of the chart of accounts. Balance is mutated only by
// journal posting.
type Account struct {
	ID            int64
	OwnerID       int64
	Number        string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	Balance       float64
	Active        bool
	System        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateAccountInput groups fields to create an account. NormalBalance is
// optional; when empty it is derived from Type.
type CreateAccountInput struct {
	OwnerID       int64
	Number        string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	System        bool
}
