// -----------------------------------------------------------------------
// Token Normalizer - canonicalizes token/balance payloads whose shape
// varies by deployment
// -----------------------------------------------------------------------

package tokens

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/adsum/internal/models"
)

// The upstream services are third-party and uncontracted; response
// shapes change across deployments without notice. Normalization is
// therefore total: any input degrades to "no tokens extracted" rather
// than an error.

// maxUnwrapDepth caps wrapper recursion so pathological or
// self-referential payloads still terminate.
const maxUnwrapDepth = 4

// keyScheme is the literal prefix stripped from secret material.
const keyScheme = "sk-"

var wrapperKeys = []string{"data", "list", "items", "rows", "tokens", "records"}

var keyFields = []string{"key", "token", "token_key", "api_key", "sk", "secret", "value"}
var nameFields = []string{"name", "token_name", "label", "remark", "title"}
var remainFields = []string{"remain_quota", "remaining_quota", "left_quota", "quota_remain", "remain", "quota"}
var usedFields = []string{"used_quota", "quota_used", "used"}
var statusFields = []string{"status", "state"}
var expiredFields = []string{"expired_at", "expired_time", "expire_time", "expires_at"}
var createdFields = []string{"created_at", "created_time", "create_time"}

// Normalize accepts an arbitrarily-shaped payload from a balance or
// token-list endpoint and produces canonical token records. It never
// fails; unrecognized shapes yield an empty slice.
func Normalize(payload any) []models.TokenRecord {
	items := extractItems(payload, 0)

	records := make([]models.TokenRecord, 0, len(items))
	for i, item := range items {
		records = append(records, normalizeItem(item, i))
	}
	return records
}

// extractItems finds the token sequence inside the payload:
// a bare list, a wrapped list under a known key (up to maxUnwrapDepth
// levels), a single token-like object, or a bare key string.
func extractItems(payload any, depth int) []any {
	if depth > maxUnwrapDepth {
		return nil
	}

	switch v := payload.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []models.TokenRecord:
		items := make([]any, 0, len(v))
		for _, record := range v {
			items = append(items, record)
		}
		return items
	case models.TokenRecord:
		return []any{v}
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []any{v}
	case map[string]any:
		for _, key := range wrapperKeys {
			if inner, ok := v[key]; ok {
				if items := extractItems(inner, depth+1); items != nil {
					return items
				}
			}
		}
		if looksLikeToken(v) {
			return []any{v}
		}
		return nil
	default:
		return nil
	}
}

// looksLikeToken reports whether a lone object carries a key-like or
// quota-like field and should be treated as a one-element sequence.
func looksLikeToken(m map[string]any) bool {
	for _, field := range keyFields {
		if s, ok := m[field].(string); ok && s != "" {
			return true
		}
	}
	for _, field := range remainFields {
		if _, ok := m[field]; ok {
			return true
		}
	}
	return false
}

func normalizeItem(item any, index int) models.TokenRecord {
	switch v := item.(type) {
	case models.TokenRecord:
		v.Key = strings.TrimPrefix(v.Key, keyScheme)
		return v
	case string:
		return models.TokenRecord{
			Name: defaultName(index),
			Key:  strings.TrimPrefix(strings.TrimSpace(v), keyScheme),
		}
	case map[string]any:
		record := models.TokenRecord{
			Name:           firstString(v, nameFields),
			Key:            strings.TrimPrefix(firstString(v, keyFields), keyScheme),
			RemainingQuota: clampQuota(firstInt(v, remainFields)),
			UsedQuota:      clampQuota(firstInt(v, usedFields)),
			Status:         firstInt(v, statusFields),
			ExpiredAt:      firstInt(v, expiredFields),
			CreatedAt:      firstInt(v, createdFields),
		}
		if record.Name == "" {
			record.Name = defaultName(index)
		}
		return record
	default:
		return models.TokenRecord{Name: defaultName(index)}
	}
}

func defaultName(index int) string {
	return fmt.Sprintf("token_%d", index+1)
}

// firstString returns the first non-empty string among the candidate
// fields, in candidate order.
func firstString(m map[string]any, fields []string) string {
	for _, field := range fields {
		if s, ok := m[field].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// firstInt returns the first coercible integer among the candidate
// fields. Floats truncate; non-numeric values count as absent.
func firstInt(m map[string]any, fields []string) int64 {
	for _, field := range fields {
		value, ok := m[field]
		if !ok {
			continue
		}
		if n, ok := coerceInt(value); ok {
			return n
		}
	}
	return 0
}

func coerceInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func clampQuota(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
