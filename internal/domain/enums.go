package domain

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentCredit   PaymentMethod = "CREDIT"
	PaymentNone     PaymentMethod = "NONE"
)

var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard, PaymentTransfer, PaymentCredit, PaymentNone}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentCredit, PaymentNone:
		return true
	}
	return false
}

// AffectsCash reports whether a leg paid with this method moves money.
func (m PaymentMethod) AffectsCash() bool {
	return m != PaymentNone
}

type LedgerDirection string

const (
	DirectionIn  LedgerDirection = "IN"
	DirectionOut LedgerDirection = "OUT"
)

func (d LedgerDirection) Valid() bool {
	switch d {
	case DirectionIn, DirectionOut:
		return true
	}
	return false
}

type LedgerType string

const (
	LedgerSale       LedgerType = "SALE"
	LedgerExchange   LedgerType = "EXCHANGE"
	LedgerRefund     LedgerType = "REFUND"
	LedgerDeposit    LedgerType = "DEPOSIT"
	LedgerWithdrawal LedgerType = "WITHDRAWAL"
)

type RewardType string

const (
	RewardFree            RewardType = "FREE"
	RewardFixedPrice      RewardType = "FIXED_PRICE"
	RewardPercentDiscount RewardType = "PERCENT_DISCOUNT"
)

func (r RewardType) Valid() bool {
	switch r {
	case RewardFree, RewardFixedPrice, RewardPercentDiscount:
		return true
	}
	return false
}

type OfferStatus string

const (
	OfferActive OfferStatus = "ACTIVE"
	OfferPaused OfferStatus = "PAUSED"
)

type CouponType string

const (
	CouponFixed      CouponType = "FIXED"
	CouponPercentage CouponType = "PERCENTAGE"
)

type CouponTarget string

const (
	TargetGeneral CouponTarget = "GENERAL"
	TargetGroup   CouponTarget = "GROUP"
	TargetClient  CouponTarget = "CLIENT"
)

type RefundSource string

const (
	RefundCashbox        RefundSource = "CASHBOX"
	RefundOutsideCashbox RefundSource = "OUTSIDE_CASHBOX"
)

func (s RefundSource) Valid() bool {
	return s == RefundCashbox || s == RefundOutsideCashbox
}

type ShiftStatus string

const (
	ShiftOpen    ShiftStatus = "OPEN"
	ShiftClosing ShiftStatus = "CLOSING"
	ShiftClosed  ShiftStatus = "CLOSED"
)
