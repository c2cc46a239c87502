package workers

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeCoversEveryIndexOnce(t *testing.T) {
	for _, tc := range []struct{ n, workers int }{
		{0, 4}, {1, 4}, {7, 3}, {100, 8}, {5, 0},
	} {
		hits := make([]int32, tc.n)
		Range(tc.n, tc.workers, func(_, start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			assert.Equalf(t, int32(1), h, "n=%d workers=%d index %d", tc.n, tc.workers, i)
		}
	}
}

func TestEachVisitsAllItems(t *testing.T) {
	var sum int64
	Each(50, 4, func(i int) {
		atomic.AddInt64(&sum, int64(i))
	})
	assert.Equal(t, int64(49*50/2), sum)
}

func TestCount(t *testing.T) {
	assert.Equal(t, 3, Count(3))
	assert.GreaterOrEqual(t, Count(0), 1)
}
