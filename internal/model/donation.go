package model

import (
	"strings"
	"time"
)

// Donation は決済プロバイダーのチェックアウト完了通知から記録される寄付。
// StripeSessionIDごとに高々1件しか存在しない。
// 金額は丸めを避けるため補助通貨単位の整数で保持する。
type Donation struct {
	StripeSessionID string
	AmountMinor     int64
	Currency        string
	CustomerEmail   string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Amount は主通貨単位の金額を返す。
func (d *Donation) Amount() float64 {
	return AmountFromMinorUnits(d.AmountMinor, d.Currency)
}

// Pledge は寄付フォームから送信された寄付の意思表示。
// 決済は伴わず、スタッフが後から連絡する。
type Pledge struct {
	ID        string
	Name      string
	Email     string
	Amount    float64
	Message   string
	CreatedAt time.Time
}

// zeroDecimalCurrencies は補助通貨単位を持たない通貨。
// 金額はそのまま主通貨単位として扱う。
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// AmountFromMinorUnits は補助通貨単位の金額を主通貨単位に変換する。
func AmountFromMinorUnits(minor int64, currency string) float64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return float64(minor)
	}
	return float64(minor) / 100
}
