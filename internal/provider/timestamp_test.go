package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTimestamp(t *testing.T) {
	t.Run("日期加时间组合", func(t *testing.T) {
		got := FormatTimestamp("01/15/2024", "9:30")
		assert.Equal(t, "2024-01-15T09:30:00.000Z", FormatInstant(got))
	})

	t.Run("日期加完整时间", func(t *testing.T) {
		got := FormatTimestamp("01/15/2024", "09:30:45")
		assert.Equal(t, "2024-01-15T09:30:45.000Z", FormatInstant(got))
	})

	t.Run("ISO日期加时间", func(t *testing.T) {
		got := FormatTimestamp("2024-01-15", "23:59:59")
		assert.Equal(t, "2024-01-15T23:59:59.000Z", FormatInstant(got))
	})

	t.Run("仅ISO时间戳原样解析", func(t *testing.T) {
		got := FormatTimestamp("", "2024-03-01T12:00:00Z")
		assert.Equal(t, "2024-03-01T12:00:00.000Z", FormatInstant(got))
	})

	t.Run("带时区偏移归一化为UTC", func(t *testing.T) {
		got := FormatTimestamp("", "2024-03-01T12:00:00+08:00")
		assert.Equal(t, "2024-03-01T04:00:00.000Z", FormatInstant(got))
	})

	t.Run("通用解析兜底", func(t *testing.T) {
		got := FormatTimestamp("2024-06-30 08:15:00", "")
		assert.Equal(t, "2024-06-30T08:15:00.000Z", FormatInstant(got))

		got = FormatTimestamp("03/20/2024", "")
		assert.Equal(t, "2024-03-20T00:00:00.000Z", FormatInstant(got))
	})

	t.Run("全空退回当前时间", func(t *testing.T) {
		before := time.Now().UTC().Add(-time.Second)
		got := FormatTimestamp("", "")
		after := time.Now().UTC().Add(time.Second)

		assert.True(t, got.After(before) && got.Before(after))
	})

	t.Run("无法解析的垃圾输入退回当前时间", func(t *testing.T) {
		before := time.Now().UTC().Add(-time.Second)
		got := FormatTimestamp("not-a-date", "???")
		after := time.Now().UTC().Add(time.Second)

		assert.True(t, got.After(before) && got.Before(after))
	})

	t.Run("确定性_相同输入产生相同输出", func(t *testing.T) {
		a := FormatTimestamp("01/15/2024", "9:30")
		b := FormatTimestamp("01/15/2024", "9:30")
		assert.Equal(t, a, b)
	})
}

func TestParseUnixSeconds(t *testing.T) {
	got := ParseUnixSeconds("1700000000")
	assert.Equal(t, int64(1700000000), got.Unix())

	before := time.Now().UTC().Add(-time.Second)
	got = ParseUnixSeconds("not-a-number")
	assert.True(t, got.After(before))
}
