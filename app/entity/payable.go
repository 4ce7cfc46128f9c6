package entity

// PayableKind is the closed set of owner kinds a payment can belong to.
// Owner resolution happens through this table rather than reflection.
type PayableKind string

const (
	PayableStudentFee            PayableKind = "student_fee"
	PayableAdmission             PayableKind = "admission"
	PayableRecurringSubscription PayableKind = "recurring_subscription"
)

var payableKinds = map[PayableKind]string{
	PayableStudentFee:            "Student Fee",
	PayableAdmission:             "Admission",
	PayableRecurringSubscription: "Recurring Subscription",
}

func (k PayableKind) Valid() bool {
	_, ok := payableKinds[k]
	return ok
}

func (k PayableKind) Label() string {
	return payableKinds[k]
}

// PayableRef identifies the owning record of a payment.
type PayableRef struct {
	Kind PayableKind
	ID   uint64
}
