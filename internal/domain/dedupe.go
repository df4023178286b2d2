package domain

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// dedupeKey computes the stable per-transaction dedupe hash from spec.md
// §3: hash(tenant, posted_at, amount_minor, description_raw, counterparty_raw).
func dedupeKey(tenant TenantID, postedAt time.Time, amountMinor int64, descriptionRaw, counterpartyRaw string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s", tenant, postedAt.Format("2006-01-02"), amountMinor, descriptionRaw, counterpartyRaw)
	return fmt.Sprintf("%x", h.Sum(nil))
}
