package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/axiomedu/ms-go-billing/app/entity"
)

var ErrGatewayNotFound = errors.New("payment gateway not found")

const gatewayColumns = `id, code, name, type, is_active, is_online, has_api, supports_refunds, test_mode,
		sandbox_base_url, live_base_url, credentials_json, currency, supported_currencies,
		fee_percentage, fee_fixed, min_amount, max_amount, instructions, created_at, updated_at`

type PaymentGatewayRepository struct {
	db DBTX
}

func NewPaymentGatewayRepository(db DBTX) *PaymentGatewayRepository {
	return &PaymentGatewayRepository{db: db}
}

// FindByCode always hits the database. Gateway rows are deliberately never
// cached in-process because administrators rotate credentials at runtime.
func (r *PaymentGatewayRepository) FindByCode(ctx context.Context, code string) (*entity.PaymentGateway, error) {
	query := `SELECT ` + gatewayColumns + ` FROM payment_gateways WHERE code = ? LIMIT 1`

	gw := &entity.PaymentGateway{}
	if err := scanGateway(r.db.QueryRowContext(ctx, query, code), gw); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return gw, nil
}

func (r *PaymentGatewayRepository) ListActive(ctx context.Context) ([]*entity.PaymentGateway, error) {
	query := `SELECT ` + gatewayColumns + ` FROM payment_gateways WHERE is_active = 1 ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	gateways := make([]*entity.PaymentGateway, 0)
	for rows.Next() {
		gw := &entity.PaymentGateway{}
		if err := scanGateway(rows, gw); err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return gateways, nil
}

func scanGateway(scan rowScanner, gw *entity.PaymentGateway) error {
	var gatewayType string
	var credentialsJSON string
	var supportedCurrencies string

	err := scan.Scan(
		&gw.ID,
		&gw.Code,
		&gw.Name,
		&gatewayType,
		&gw.IsActive,
		&gw.IsOnline,
		&gw.HasAPI,
		&gw.SupportsRefunds,
		&gw.TestMode,
		&gw.SandboxBaseURL,
		&gw.LiveBaseURL,
		&credentialsJSON,
		&gw.Currency,
		&supportedCurrencies,
		&gw.FeePercentage,
		&gw.FeeFixed,
		&gw.MinAmount,
		&gw.MaxAmount,
		&gw.Instructions,
		&gw.CreatedAt,
		&gw.UpdatedAt,
	)
	if err != nil {
		return err
	}

	gw.Type = entity.GatewayType(gatewayType)
	gw.SupportedCurrencies = parseStringList(supportedCurrencies)

	credentials, err := parseStringMap(credentialsJSON)
	if err != nil {
		return err
	}
	gw.Credentials = credentials

	return nil
}
