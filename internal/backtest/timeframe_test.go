package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)
	assert.Equal(t, time.Hour, tf.Duration)

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	hour := int64(3600_000)
	start, end := tf.AlignRange(hour+5, 3*hour+10)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)

	// 颠倒的区间会被交换
	start, end = tf.AlignRange(3*hour, hour)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("1m")
	require.NoError(t, err)

	minute := int64(60_000)
	assert.Equal(t, int64(1), tf.ExpectedCandles(0, 0))
	assert.Equal(t, int64(61), tf.ExpectedCandles(0, 60*minute))
	assert.Equal(t, int64(0), tf.ExpectedCandles(minute, 0))
}

func TestSupportedTimeframesSorted(t *testing.T) {
	keys := SupportedTimeframes()
	require.NotEmpty(t, keys)
	assert.Contains(t, keys, "1m")
	assert.Contains(t, keys, "1w")
	for i := 1; i < len(keys); i++ {
		assert.LessOrEqual(t, keys[i-1], keys[i])
	}
}
