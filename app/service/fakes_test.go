package service

import (
	"context"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
	"github.com/axiomedu/ms-go-billing/app/gateway"
	"github.com/axiomedu/ms-go-billing/app/repository"
	"github.com/axiomedu/ms-go-billing/config"
	"github.com/shopspring/decimal"
)

type fakeTxRunner struct{}

func (fakeTxRunner) InTransaction(_ context.Context, fn func(tx repository.DBTX) error) error {
	return fn(nil)
}

type fakePaymentRepo struct {
	payments map[uint64]*entity.Payment
	nextID   uint64
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: map[uint64]*entity.Payment{}, nextID: 1}
}

func (r *fakePaymentRepo) Create(_ context.Context, _ repository.DBTX, payment *entity.Payment) error {
	id := r.nextID
	r.nextID++
	copyItem := *payment
	copyItem.ID = id
	r.payments[id] = &copyItem
	payment.ID = id
	return nil
}

func (r *fakePaymentRepo) Update(_ context.Context, _ repository.DBTX, payment *entity.Payment) error {
	if _, ok := r.payments[payment.ID]; !ok {
		return repository.ErrPaymentNotFound
	}
	copyItem := *payment
	r.payments[payment.ID] = &copyItem
	return nil
}

func (r *fakePaymentRepo) FindByID(_ context.Context, id uint64) (*entity.Payment, error) {
	item, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakePaymentRepo) FindByInvoice(_ context.Context, invoiceNumber string) (*entity.Payment, error) {
	for _, item := range r.payments {
		if item.InvoiceNumber == invoiceNumber {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakePaymentRepo) FindByGatewayRef(_ context.Context, gatewayCode, gatewayRef string) (*entity.Payment, error) {
	for _, item := range r.payments {
		if item.GatewayCode == gatewayCode && item.GatewayRef != nil && *item.GatewayRef == gatewayRef {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakePaymentRepo) LockByID(_ context.Context, _ repository.DBTX, id uint64) (*entity.Payment, error) {
	item, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakePaymentRepo) FindCyclePayment(_ context.Context, _ repository.DBTX, profileID uint64, cycleStart time.Time) (*entity.Payment, error) {
	for _, item := range r.payments {
		if item.ProfileID == nil || *item.ProfileID != profileID {
			continue
		}
		if item.CreatedAt.Before(cycleStart) {
			continue
		}
		switch item.Status {
		case entity.PaymentStatusPending, entity.PaymentStatusProcessing, entity.PaymentStatusCompleted:
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

type fakeGatewayRepo struct {
	gateways map[string]*entity.PaymentGateway
}

func newFakeGatewayRepo(gateways ...*entity.PaymentGateway) *fakeGatewayRepo {
	r := &fakeGatewayRepo{gateways: map[string]*entity.PaymentGateway{}}
	for _, gw := range gateways {
		r.gateways[gw.Code] = gw
	}
	return r
}

func (r *fakeGatewayRepo) FindByCode(_ context.Context, code string) (*entity.PaymentGateway, error) {
	item, ok := r.gateways[code]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

type fakeProfileRepo struct {
	profiles map[uint64]*entity.RecurringPaymentProfile
}

func newFakeProfileRepo(profiles ...*entity.RecurringPaymentProfile) *fakeProfileRepo {
	r := &fakeProfileRepo{profiles: map[uint64]*entity.RecurringPaymentProfile{}}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *fakeProfileRepo) FindByID(_ context.Context, id uint64) (*entity.RecurringPaymentProfile, error) {
	item, ok := r.profiles[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakeProfileRepo) LockByID(_ context.Context, _ repository.DBTX, id uint64) (*entity.RecurringPaymentProfile, error) {
	return r.FindByID(context.Background(), id)
}

func (r *fakeProfileRepo) Update(_ context.Context, _ repository.DBTX, profile *entity.RecurringPaymentProfile) error {
	if _, ok := r.profiles[profile.ID]; !ok {
		return repository.ErrProfileNotFound
	}
	copyItem := *profile
	r.profiles[profile.ID] = &copyItem
	return nil
}

func (r *fakeProfileRepo) ListDue(_ context.Context, now time.Time, _ bool, limit int32) ([]*entity.RecurringPaymentProfile, error) {
	items := make([]*entity.RecurringPaymentProfile, 0)
	for _, item := range r.profiles {
		if item.Status == entity.ProfileStatusActive && !item.NextBillingDate.After(now) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	return limitProfiles(items, limit), nil
}

func (r *fakeProfileRepo) ListRetryable(_ context.Context, now time.Time, maxAttempts int32, limit int32) ([]*entity.RecurringPaymentProfile, error) {
	items := make([]*entity.RecurringPaymentProfile, 0)
	for _, item := range r.profiles {
		if item.Status == entity.ProfileStatusActive && item.FailureCount > 0 && item.FailureCount <= maxAttempts && !item.NextBillingDate.After(now) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	return limitProfiles(items, limit), nil
}

func limitProfiles(items []*entity.RecurringPaymentProfile, limit int32) []*entity.RecurringPaymentProfile {
	if limit <= 0 || int(limit) >= len(items) {
		return items
	}
	return items[:limit]
}

type fakeRefundRepo struct {
	refunds map[uint64]*entity.Refund
	nextID  uint64
}

func newFakeRefundRepo() *fakeRefundRepo {
	return &fakeRefundRepo{refunds: map[uint64]*entity.Refund{}, nextID: 1}
}

func (r *fakeRefundRepo) Create(_ context.Context, refund *entity.Refund) error {
	id := r.nextID
	r.nextID++
	copyItem := *refund
	copyItem.ID = id
	r.refunds[id] = &copyItem
	refund.ID = id
	return nil
}

func (r *fakeRefundRepo) Update(_ context.Context, _ repository.DBTX, refund *entity.Refund) error {
	if _, ok := r.refunds[refund.ID]; !ok {
		return repository.ErrRefundNotFound
	}
	copyItem := *refund
	r.refunds[refund.ID] = &copyItem
	return nil
}

func (r *fakeRefundRepo) FindByID(_ context.Context, id uint64) (*entity.Refund, error) {
	item, ok := r.refunds[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakeRefundRepo) SumActive(_ context.Context, _ repository.DBTX, paymentID uint64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, item := range r.refunds {
		if item.PaymentID == paymentID && item.Status.CountsAgainstBalance() {
			sum = sum.Add(item.Amount)
		}
	}
	return sum, nil
}

func (r *fakeRefundRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int32) ([]*entity.Refund, error) {
	items := make([]*entity.Refund, 0)
	for _, item := range r.refunds {
		if (item.Status == entity.RefundPending || item.Status == entity.RefundProcessing) && !item.UpdatedAt.After(cutoff) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

type fakeEventRepo struct {
	events []*entity.PaymentEvent
}

func (r *fakeEventRepo) Create(_ context.Context, event *entity.PaymentEvent) error {
	copyItem := *event
	r.events = append(r.events, &copyItem)
	return nil
}

func (r *fakeEventRepo) countByType(eventType string) int {
	count := 0
	for _, e := range r.events {
		if e.EventType == eventType {
			count++
		}
	}
	return count
}

type fakeClient struct {
	code        string
	credentials []string

	initResult *gateway.InitResult
	initErr    error

	callbackRef gateway.CallbackRef

	statusResult *gateway.StatusResult
	statusErr    error

	chargeResult *gateway.ChargeResult
	chargeErr    error
	chargeCalls  int

	refundResult *gateway.RefundResult
	refundErr    error

	lookupResult *gateway.RefundResult
	lookupErr    error
}

func (c *fakeClient) Code() string {
	if c.code != "" {
		return c.code
	}
	return "bkash"
}

func (c *fakeClient) RequiredCredentials() []string {
	return c.credentials
}

func (c *fakeClient) Initialize(context.Context, *entity.PaymentGateway, *entity.Payment, gateway.InitOptions) (*gateway.InitResult, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.initResult != nil {
		return c.initResult, nil
	}
	return &gateway.InitResult{
		GatewayRef:  "TRX-REF-1",
		RedirectURL: "https://gateway.example/checkout/TRX-REF-1",
		Details:     map[string]string{"session": "TRX-REF-1"},
	}, nil
}

func (c *fakeClient) ExtractCallback(map[string]string) gateway.CallbackRef {
	return c.callbackRef
}

func (c *fakeClient) QueryStatus(context.Context, *entity.PaymentGateway, *entity.Payment) (*gateway.StatusResult, error) {
	if c.statusErr != nil {
		return nil, c.statusErr
	}
	if c.statusResult != nil {
		return c.statusResult, nil
	}
	return &gateway.StatusResult{Status: entity.PaymentStatusPending}, nil
}

func (c *fakeClient) ChargeRecurring(context.Context, *entity.PaymentGateway, *entity.RecurringPaymentProfile, *entity.Payment) (*gateway.ChargeResult, error) {
	c.chargeCalls++
	if c.chargeErr != nil {
		return nil, c.chargeErr
	}
	if c.chargeResult != nil {
		return c.chargeResult, nil
	}
	return &gateway.ChargeResult{Status: entity.PaymentStatusCompleted, TransactionID: "TXN-REC-1"}, nil
}

func (c *fakeClient) Refund(context.Context, *entity.PaymentGateway, *entity.Refund) (*gateway.RefundResult, error) {
	if c.refundErr != nil {
		return nil, c.refundErr
	}
	if c.refundResult != nil {
		return c.refundResult, nil
	}
	return &gateway.RefundResult{Status: entity.RefundCompleted, GatewayRefundID: "RFD-1"}, nil
}

func (c *fakeClient) LookupRefund(context.Context, *entity.PaymentGateway, *entity.Refund) (*gateway.RefundResult, error) {
	if c.lookupErr != nil {
		return nil, c.lookupErr
	}
	if c.lookupResult != nil {
		return c.lookupResult, nil
	}
	return &gateway.RefundResult{Status: entity.RefundCompleted, GatewayRefundID: "RFD-1"}, nil
}

type serviceFixture struct {
	payments *fakePaymentRepo
	gateways *fakeGatewayRepo
	profiles *fakeProfileRepo
	refunds  *fakeRefundRepo
	events   *fakeEventRepo
	client   *fakeClient
	svc      *PaymentService
}

func newServiceFixture(gw *entity.PaymentGateway, client *fakeClient, profiles ...*entity.RecurringPaymentProfile) *serviceFixture {
	f := &serviceFixture{
		payments: newFakePaymentRepo(),
		gateways: newFakeGatewayRepo(),
		profiles: newFakeProfileRepo(profiles...),
		refunds:  newFakeRefundRepo(),
		events:   &fakeEventRepo{},
		client:   client,
	}
	if gw != nil {
		f.gateways.gateways[gw.Code] = gw
	}
	f.svc = NewPaymentService(
		f.payments,
		f.gateways,
		f.profiles,
		f.refunds,
		f.events,
		gateway.NewRegistry(client),
		fakeTxRunner{},
		nil,
		config.BillingConfig{BatchSize: 100, RetryMaxAttempts: 3},
		config.RefundsConfig{BatchSize: 100, ReconcileStaleAfter: time.Minute},
	)
	return f
}

func onlineGateway(code string) *entity.PaymentGateway {
	return &entity.PaymentGateway{
		Code:            code,
		Name:            code,
		IsActive:        true,
		IsOnline:        true,
		HasAPI:          true,
		SupportsRefunds: true,
		Credentials:     map[string]string{"app_key": "k", "app_secret": "s", "username": "u", "password": "p"},
		Currency:        "BDT",
	}
}
