package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/adsum/internal/models"
)

func TestNormalize_Totality(t *testing.T) {
	// Any shape must degrade to a (possibly empty) record list, never
	// a panic.
	inputs := []any{
		nil,
		42,
		"   ",
		true,
		map[string]any{},
		map[string]any{"unrelated": "stuff"},
		[]any{nil, 42, true},
		map[string]any{"data": map[string]any{"data": map[string]any{"data": 7}}},
	}
	for _, input := range inputs {
		records := Normalize(input)
		assert.NotNil(t, records)
	}
}

func TestNormalize_ObjectList(t *testing.T) {
	payload := map[string]any{
		"data": []any{
			map[string]any{
				"name":         "prod",
				"key":          "sk-ABC123",
				"remain_quota": float64(500000),
				"used_quota":   float64(12345),
				"status":       float64(1),
			},
			map[string]any{
				"token": "sk-DEF456",
				"quota": "5.9",
			},
		},
	}

	records := Normalize(payload)
	require.Len(t, records, 2)

	assert.Equal(t, "prod", records[0].Name)
	assert.Equal(t, "ABC123", records[0].Key)
	assert.Equal(t, int64(500000), records[0].RemainingQuota)
	assert.Equal(t, int64(12345), records[0].UsedQuota)
	assert.Equal(t, int64(1), records[0].Status)

	// Missing name gets a positional default; fractional quota strings
	// truncate toward zero.
	assert.Equal(t, "token_2", records[1].Name)
	assert.Equal(t, "DEF456", records[1].Key)
	assert.Equal(t, int64(5), records[1].RemainingQuota)
}

func TestNormalize_BareStringAndSingleObject(t *testing.T) {
	records := Normalize("sk-LONE")
	require.Len(t, records, 1)
	assert.Equal(t, "LONE", records[0].Key)
	assert.Equal(t, "token_1", records[0].Name)

	records = Normalize(map[string]any{"key": "sk-SOLO", "remain_quota": float64(10)})
	require.Len(t, records, 1)
	assert.Equal(t, "SOLO", records[0].Key)
	assert.Equal(t, int64(10), records[0].RemainingQuota)
}

func TestNormalize_WrapperDepth(t *testing.T) {
	// Wrappers unwrap through known keys up to the depth cap.
	payload := map[string]any{
		"data": map[string]any{
			"list": map[string]any{
				"items": []any{
					map[string]any{"key": "sk-DEEP"},
				},
			},
		},
	}
	records := Normalize(payload)
	require.Len(t, records, 1)
	assert.Equal(t, "DEEP", records[0].Key)

	// Beyond the cap the payload degrades to empty instead of
	// recursing forever.
	deep := any([]any{map[string]any{"key": "sk-TOODEEP"}})
	for i := 0; i < 10; i++ {
		deep = map[string]any{"data": deep}
	}
	assert.Empty(t, Normalize(deep))
}

func TestNormalize_NegativeQuotaClamped(t *testing.T) {
	records := Normalize([]any{
		map[string]any{"key": "sk-NEG", "remain_quota": float64(-50), "used_quota": float64(-1)},
	})
	require.Len(t, records, 1)
	assert.Equal(t, int64(0), records[0].RemainingQuota)
	assert.Equal(t, int64(0), records[0].UsedQuota)
}

func TestNormalize_FixedPoint(t *testing.T) {
	// Normalizing already-normalized records changes nothing.
	first := Normalize(map[string]any{
		"data": []any{
			map[string]any{"name": "t", "key": "sk-FIX", "remain_quota": float64(7)},
			map[string]any{"token": "sk-OTHER", "used_quota": float64(3)},
		},
	})
	second := Normalize(first)
	assert.Equal(t, first, second)
}

func TestNormalize_FieldPriority(t *testing.T) {
	// Candidate fields are checked in order; the first present wins.
	records := Normalize([]any{
		map[string]any{
			"key":          "sk-PRIMARY",
			"token":        "sk-SECONDARY",
			"remain_quota": float64(100),
			"quota":        float64(999),
		},
	})
	require.Len(t, records, 1)
	assert.Equal(t, "PRIMARY", records[0].Key)
	assert.Equal(t, int64(100), records[0].RemainingQuota)
}

func TestNormalize_PreNormalizedRecords(t *testing.T) {
	records := Normalize([]models.TokenRecord{{Name: "kept", Key: "sk-RAW"}})
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].Name)
	assert.Equal(t, "RAW", records[0].Key)
}
