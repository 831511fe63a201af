package audithook

// Action constants for audit events.
const (
	// Balance actions
	ActionLotGranted    = "lot.granted"
	ActionLotRevoked    = "lot.revoked"
	ActionUsageRecorded = "usage.recorded"
	ActionDebtChanged   = "debt.changed"
	ActionUserBlocked   = "user.blocked"

	// Refund actions
	ActionRefundRequested = "refund.requested"
	ActionOrderRefunded   = "order.refunded"

	// Webhook actions
	ActionWebhookProcessed = "webhook.processed"
	ActionWebhookFailed    = "webhook.failed"
)

// Resource constants for audit events.
const (
	ResourceLot     = "lot"
	ResourceUsage   = "usage"
	ResourceBalance = "balance"
	ResourceOrder   = "order"
	ResourceWebhook = "webhook"
)

// Category constants for audit events.
const (
	CategoryBalance     = "balance"
	CategoryUsage       = "usage"
	CategoryAccess      = "access"
	CategoryPayment     = "payment"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
