package model

import "time"

// QuotaStatus は特定IdentityのUTC日次クォータの現在値を表す。
type QuotaStatus struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resetsAt"`
}

// QuotaDateKey は時刻tをUTC日次クォータのdateKey（yyyy-mm-dd）に変換する。
// レコードのキー自体が日付を持つため、日付が変わると前日のレコードは
// 参照されなくなり、明示的なリセット処理は不要になる。
func QuotaDateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// QuotaResetTime は時刻tから見た次のUTC 0時（翌日0:00 UTC）を返す。
func QuotaResetTime(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
