package models

// TokenRecord is the canonical shape for one API token extracted from
// a site's token-list endpoint. Upstream response schemas vary by
// deployment, so every field here is best-effort: the normalizer
// defaults anything it cannot extract.
type TokenRecord struct {
	Name           string `json:"name"`
	Key            string `json:"key"` // secret material, scheme prefix stripped
	RemainingQuota int64  `json:"remaining_quota"`
	UsedQuota      int64  `json:"used_quota"`
	Status         int64  `json:"status"`
	ExpiredAt      int64  `json:"expired_at"` // epoch seconds, 0 when unknown
	CreatedAt      int64  `json:"created_at"` // epoch seconds, 0 when unknown
}
