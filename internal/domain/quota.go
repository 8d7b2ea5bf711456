package domain

// QuotaWindow is the persisted request counter for one client in one
// fixed rate-limit window.
type QuotaWindow struct {
	PK       string
	SK       string
	ClientID string
	Count    int
	TTL      int64
}
