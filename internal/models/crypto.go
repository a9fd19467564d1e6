// Package models provides data models for the ATH notification pipeline.
package models

import "time"

// CryptoAsset is a snapshot of a ranked asset as reported by the market data
// source. It is refetched every poll cycle and never persisted as-is.
type CryptoAsset struct {
	ID                       string    `json:"id"`
	Symbol                   string    `json:"symbol"`
	Name                     string    `json:"name"`
	CurrentPrice             float64   `json:"currentPrice"`
	MarketCap                float64   `json:"marketCap"`
	MarketCapRank            int       `json:"marketCapRank"`
	TotalVolume              float64   `json:"totalVolume"`
	ATH                      float64   `json:"ath"`
	ATHDate                  time.Time `json:"athDate"`
	LastUpdated              time.Time `json:"lastUpdated"`
	PriceChangePercentage24h float64   `json:"priceChangePercentage24h"`
}

// StoredAssetState is the per-asset record kept between poll cycles: the last
// all-time high we have confirmed and when we last notified for the asset.
type StoredAssetState struct {
	AssetID        string    `json:"assetId"`
	ATH            float64   `json:"ath"`
	LastNotifiedAt time.Time `json:"lastNotifiedAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DetectedEvent is a qualifying ATH detection before it is persisted as an
// ATHEvent: the fresh asset snapshot plus the ATH it displaced.
type DetectedEvent struct {
	Asset       CryptoAsset
	PreviousATH float64
	NewATH      float64
}

// PercentageIncrease returns the relative gain of the new ATH over the
// previous one. A first observation (previous ATH 0) is reported as 100%.
func (e *DetectedEvent) PercentageIncrease() float64 {
	if e.PreviousATH == 0 {
		return 100
	}
	return (e.NewATH - e.PreviousATH) / e.PreviousATH * 100
}

// ATHEvent is the persisted notification event record. RecipientCount is 0 at
// creation and updated exactly once after fan-out completes.
type ATHEvent struct {
	ID             string    `json:"id"`
	CryptoID       string    `json:"cryptoId"`
	Symbol         string    `json:"symbol"`
	Name           string    `json:"name"`
	NewATH         float64   `json:"newAth"`
	PreviousATH    float64   `json:"previousAth"`
	SentAt         time.Time `json:"sentAt"`
	RecipientCount int       `json:"recipientCount"`
}

// UserNotificationLogEntry is the append-only per-user audit record written
// for every successful notification enqueue.
type UserNotificationLogEntry struct {
	UserID         string    `json:"userId"`
	NotificationID string    `json:"notificationId"`
	CryptoID       string    `json:"cryptoId"`
	SentAt         time.Time `json:"sentAt"`
}
