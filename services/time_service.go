package services

import "time"

// timestampLayout has fixed width so that formatted UTC timestamps sort
// lexicographically in the same order as the instants they encode.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp はタイムスタンプをストレージ形式に変換します
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp accepts the storage layout and, for rows written by older
// versions and for client input, plain RFC 3339.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
