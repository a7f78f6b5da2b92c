package provider

import (
	"fmt"
	"strings"
	"time"
)

// genericLayouts 通用解析尝试的时间格式（按常见度排序）。
// 各服务商的时间字段命名与本地化格式并不一致，同一事件可能
// 同时存在用户时区与服务器时区两个变体。
var genericLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
	time.UnixDate,
}

// FormatTimestamp 将服务商的日期/时间字段归一化为 UTC 时间点。
//
// 纯函数、无副作用。优先级：
//  1. 日期与时间字段同时存在：MM/DD/YYYY 转 YYYY-MM-DD，
//     时间补齐为 HH:MM:SS 后组合解析；
//  2. 仅时间字段且已是 ISO 形状：原样解析；
//  3. 对现有字段做通用格式尝试；
//  4. 全部失败退回当前时间。
//
// 每个分支都验证解析结果有效后才采纳。
func FormatTimestamp(dateStr, timeStr string) time.Time {
	dateStr = strings.TrimSpace(dateStr)
	timeStr = strings.TrimSpace(timeStr)

	// 阶段 1：日期 + 时间组合
	if dateStr != "" && timeStr != "" {
		isoDate := toISODate(dateStr)
		fullTime := ensureFullTime(timeStr)
		if isoDate != "" && fullTime != "" {
			if t, err := time.Parse("2006-01-02T15:04:05", isoDate+"T"+fullTime); err == nil {
				return t.UTC()
			}
		}
	}

	// 阶段 2：仅时间字段且已是 ISO 形状
	if timeStr != "" && looksISO(timeStr) {
		if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02T15:04:05", timeStr); err == nil {
			return t.UTC()
		}
	}

	// 阶段 3：对现有字段做通用解析
	for _, candidate := range []string{dateStr, timeStr, strings.TrimSpace(dateStr + " " + timeStr)} {
		if candidate == "" {
			continue
		}
		for _, layout := range genericLayouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return t.UTC()
			}
		}
	}

	// 阶段 4：兜底当前时间
	return time.Now().UTC()
}

// toISODate 将 MM/DD/YYYY 或已是 ISO 的日期转为 YYYY-MM-DD，
// 无法识别时返回空串
func toISODate(dateStr string) string {
	if t, err := time.Parse("2006-01-02", dateStr); err == nil {
		return t.Format("2006-01-02")
	}
	if t, err := time.Parse("01/02/2006", dateStr); err == nil {
		return t.Format("2006-01-02")
	}
	if t, err := time.Parse("1/2/2006", dateStr); err == nil {
		return t.Format("2006-01-02")
	}
	return ""
}

// ensureFullTime 将时间片段补齐为 HH:MM:SS，无法识别时返回空串
func ensureFullTime(timeStr string) string {
	// 去掉 12 小时制后缀，统一按 24 小时处理
	for _, layout := range []string{"15:04:05", "15:04", "3:04:05 PM", "3:04 PM"} {
		if t, err := time.Parse(layout, timeStr); err == nil {
			return t.Format("15:04:05")
		}
	}
	// 单独的小时数（如 "9"）
	if t, err := time.Parse("15", timeStr); err == nil {
		return t.Format("15:04:05")
	}
	return ""
}

// looksISO 粗判字符串是否为 ISO 8601 形状（YYYY-MM-DDT...）
func looksISO(s string) bool {
	if len(s) < 10 {
		return false
	}
	return s[4] == '-' && s[7] == '-' && (len(s) == 10 || s[10] == 'T' || s[10] == ' ')
}

// FormatInstant 输出规范 ISO 字符串（带毫秒，UTC）
func FormatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ParseUnixSeconds 解析秒级 Unix 时间戳，非法时退回当前时间
func ParseUnixSeconds(raw string) time.Time {
	var sec int64
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d", &sec); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}
