package rest

import "github.com/shopspring/decimal"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that flattens a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type TickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   int64           `json:"time"`
}

type PremiumIndex struct {
	Symbol          string          `json:"symbol"`
	MarkPrice       decimal.Decimal `json:"markPrice"`
	IndexPrice      decimal.Decimal `json:"indexPrice"`
	LastFundingRate decimal.Decimal `json:"lastFundingRate"`
	NextFundingTime int64           `json:"nextFundingTime"`
	Time            int64           `json:"time"`
}

type PositionRisk struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	Leverage         decimal.Decimal `json:"leverage"`
	PositionSide     string          `json:"positionSide"`
}

type AccountAsset struct {
	Asset            string          `json:"asset"`
	WalletBalance    decimal.Decimal `json:"walletBalance"`
	UnrealizedProfit decimal.Decimal `json:"unrealizedProfit"`
	MarginBalance    decimal.Decimal `json:"marginBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

type AccountInfo struct {
	TotalWalletBalance decimal.Decimal `json:"totalWalletBalance"`
	TotalMarginBalance decimal.Decimal `json:"totalMarginBalance"`
	Assets             []AccountAsset  `json:"assets"`
}

// Asset returns the entry for name, if the account reports one.
func (a AccountInfo) Asset(name string) (AccountAsset, bool) {
	for _, asset := range a.Assets {
		if asset.Asset == name {
			return asset, true
		}
	}
	return AccountAsset{}, false
}

type LeverageResponse struct {
	Symbol           string          `json:"symbol"`
	Leverage         int             `json:"leverage"`
	MaxNotionalValue decimal.Decimal `json:"maxNotionalValue"`
}

type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          string
	Quantity      decimal.Decimal
	PositionSide  string
	ClientOrderID string
}

type OrderResponse struct {
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Status        string          `json:"status"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	PositionSide  string          `json:"positionSide"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	UpdateTime    int64           `json:"updateTime"`
}
