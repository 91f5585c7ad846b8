package dto

type RevenueCatWebhook struct {
	APIVersion string          `json:"api_version"`
	Event      RevenueCatEvent `json:"event"`
}

type RevenueCatEvent struct {
	Type                  string   `json:"type"`
	ID                    string   `json:"id"`
	AppUserID             string   `json:"app_user_id"`
	OriginalAppUserID     string   `json:"original_app_user_id"`
	Aliases               []string `json:"aliases"`
	ProductID             string   `json:"product_id"`
	NewProductID          string   `json:"new_product_id"`
	EntitlementIDs        []string `json:"entitlement_ids"`
	PeriodType            string   `json:"period_type"`
	PurchasedAtMs         int64    `json:"purchased_at_ms"`
	ExpirationAtMs        int64    `json:"expiration_at_ms"`
	EventTimestampMs      int64    `json:"event_timestamp_ms"`
	Environment           string   `json:"environment"`
	Store                 string   `json:"store"`
	TransactionID         string   `json:"transaction_id"`
	OriginalTransactionID string   `json:"original_transaction_id"`
	CancelReason          string   `json:"cancel_reason"`
}
