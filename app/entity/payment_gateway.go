package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type GatewayType string

const (
	GatewayTypeBank   GatewayType = "bank"
	GatewayTypeMFS    GatewayType = "mfs"
	GatewayTypeOnline GatewayType = "online"
	GatewayTypeOther  GatewayType = "other"
)

// PaymentGateway is the administrator-managed configuration for one provider.
// Services re-read the row on every operation so rotated credentials take
// effect without a restart.
type PaymentGateway struct {
	ID   uint64
	Code string
	Name string
	Type GatewayType

	IsActive        bool
	IsOnline        bool
	HasAPI          bool
	SupportsRefunds bool
	TestMode        bool

	SandboxBaseURL string
	LiveBaseURL    string

	// Credentials is an opaque key/secret bag. Values are never logged.
	Credentials map[string]string

	Currency            string
	SupportedCurrencies []string
	FeePercentage       decimal.Decimal
	FeeFixed            decimal.Decimal
	MinAmount           decimal.Decimal
	MaxAmount           decimal.Decimal

	// Instructions is shown to the payer for offline methods (cash, bank
	// transfer, cheque) instead of a checkout redirect.
	Instructions string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (g *PaymentGateway) BaseURL() string {
	if g.TestMode {
		return g.SandboxBaseURL
	}
	return g.LiveBaseURL
}

func (g *PaymentGateway) Credential(key string) string {
	if g.Credentials == nil {
		return ""
	}
	return g.Credentials[key]
}

// MissingCredentials returns the subset of keys without a value.
func (g *PaymentGateway) MissingCredentials(keys ...string) []string {
	missing := make([]string, 0)
	for _, key := range keys {
		if g.Credential(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func (g *PaymentGateway) SupportsCurrency(currency string) bool {
	if currency == g.Currency {
		return true
	}
	for _, c := range g.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// WithinLimits reports whether amount falls inside the gateway's configured
// min/max. A zero max means no upper bound.
func (g *PaymentGateway) WithinLimits(amount decimal.Decimal) bool {
	if amount.LessThan(g.MinAmount) {
		return false
	}
	if g.MaxAmount.IsPositive() && amount.GreaterThan(g.MaxAmount) {
		return false
	}
	return true
}

// Fee computes the gateway charge for an amount.
func (g *PaymentGateway) Fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(g.FeePercentage).Div(decimal.NewFromInt(100)).Add(g.FeeFixed)
}
