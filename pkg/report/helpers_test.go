package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthBuckets(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	tests := []struct {
		name   string
		from   time.Time
		to     time.Time
		labels []string
	}{
		{
			name:   "年跨ぎ",
			from:   time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC),
			to:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			labels: []string{"Nov 2023", "Dec 2023", "Jan 2024", "Feb 2024"},
		},
		{
			name:   "同月",
			from:   time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
			to:     time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC),
			labels: []string{"May 2024"},
		},
		{
			name: "開始側のタイムゾーン",
			from: time.Date(2024, 3, 1, 0, 0, 0, 0, tokyo),
			// UTCでは3月末だが東京では4月
			to:     time.Date(2024, 3, 31, 20, 0, 0, 0, time.UTC),
			labels: []string{"Mar 2024", "Apr 2024"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets := monthBuckets(tt.from, tt.to)
			var labels []string
			for _, b := range buckets {
				labels = append(labels, b.Label)
				assert.True(t, b.Revenue.IsZero())
				assert.True(t, b.Expenses.IsZero())
				assert.Equal(t, 1, b.Month.Day())
			}
			assert.Equal(t, tt.labels, labels)
		})
	}

	assert.NotNil(t, monthBuckets(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCacheKey(t *testing.T) {
	from := time.Unix(1700000000, 0)
	to := time.Unix(1700086400, 0)
	assert.Equal(t, "report:production:farm-1:flock-1:g3:1700000000:1700086400", cacheKey("production", "farm-1", "flock-1", 3, from, to))
	assert.NotEqual(t, cacheKey("growth", "farm-1", "", 0, from, to), cacheKey("production", "farm-1", "", 0, from, to))
	assert.NotEqual(t, cacheKey("growth", "farm-1", "", 0, from, to), cacheKey("growth", "farm-1", "", 1, from, to))
}

func TestValidateWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, validateWindow(now, now))
	assert.Error(t, validateWindow(time.Time{}, now))
	assert.Error(t, validateWindow(now, now.Add(-time.Second)))
	assert.Error(t, validateWindow(now, now.AddDate(25, 0, 0)))
}
