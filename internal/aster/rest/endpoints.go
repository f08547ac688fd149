package rest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	tickerPricePath  = "/fapi/v1/ticker/price"
	premiumIndexPath = "/fapi/v1/premiumIndex"
	positionRiskPath = "/fapi/v2/positionRisk"
	accountPath      = "/fapi/v2/account"
	leveragePath     = "/fapi/v1/leverage"
	orderPath        = "/fapi/v1/order"

	QuoteAsset = "USDT"
)

func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var resp serverTimeResponse
	if err := c.PublicGet(ctx, serverTimePath, nil, &resp); err != nil {
		return 0, err
	}
	if resp.ServerTime <= 0 {
		return 0, &RequestFailed{Endpoint: serverTimePath, Cause: errors.New("missing serverTime")}
	}
	return resp.ServerTime, nil
}

func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp TickerPrice
	if err := c.PublicGet(ctx, tickerPricePath, url.Values{"symbol": {symbol}}, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, &RequestFailed{Endpoint: tickerPricePath, Cause: fmt.Errorf("non-positive price %s", resp.Price)}
	}
	return resp.Price, nil
}

func (c *Client) PremiumIndex(ctx context.Context, symbol string) (PremiumIndex, error) {
	var resp PremiumIndex
	if err := c.PublicGet(ctx, premiumIndexPath, url.Values{"symbol": {symbol}}, &resp); err != nil {
		return PremiumIndex{}, err
	}
	return resp, nil
}

func (c *Client) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	idx, err := c.PremiumIndex(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return idx.LastFundingRate, nil
}

func (c *Client) PositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	var resp []PositionRisk
	if err := c.SignedGet(ctx, positionRiskPath, url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Position returns the net position for symbol. A symbol the exchange does not
// report is flat.
func (c *Client) Position(ctx context.Context, symbol string) (PositionRisk, error) {
	positions, err := c.PositionRisk(ctx, symbol)
	if err != nil {
		return PositionRisk{}, err
	}
	return NetPosition(symbol, positions), nil
}

// NetPosition folds hedge-mode LONG/SHORT rows into one signed amount.
func NetPosition(symbol string, positions []PositionRisk) PositionRisk {
	var out PositionRisk
	found := false
	for _, p := range positions {
		if p.Symbol != "" && p.Symbol != symbol {
			continue
		}
		if !found {
			out = p
			found = true
			continue
		}
		out.PositionAmt = out.PositionAmt.Add(p.PositionAmt)
		out.UnrealizedProfit = out.UnrealizedProfit.Add(p.UnrealizedProfit)
		if out.EntryPrice.IsZero() {
			out.EntryPrice = p.EntryPrice
		}
		if out.LiquidationPrice.IsZero() {
			out.LiquidationPrice = p.LiquidationPrice
		}
	}
	out.Symbol = symbol
	return out
}

func (c *Client) Account(ctx context.Context) (AccountInfo, error) {
	var resp AccountInfo
	if err := c.SignedGet(ctx, accountPath, nil, &resp); err != nil {
		return AccountInfo{}, err
	}
	return resp, nil
}

// WalletBalance returns the USDT wallet balance, zero when the asset is absent.
func (c *Client) WalletBalance(ctx context.Context) (decimal.Decimal, error) {
	info, err := c.Account(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	asset, ok := info.Asset(QuoteAsset)
	if !ok {
		return decimal.Zero, nil
	}
	return asset.WalletBalance, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (LeverageResponse, error) {
	params := url.Values{
		"symbol":   {symbol},
		"leverage": {strconv.Itoa(leverage)},
	}
	var resp LeverageResponse
	if err := c.SignedPost(ctx, leveragePath, params, &resp); err != nil {
		return LeverageResponse{}, err
	}
	return resp, nil
}

func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (OrderResponse, error) {
	params := url.Values{
		"symbol":   {order.Symbol},
		"side":     {string(order.Side)},
		"type":     {order.Type},
		"quantity": {order.Quantity.String()},
	}
	if order.PositionSide != "" {
		params.Set("positionSide", order.PositionSide)
	}
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}
	var resp OrderResponse
	if err := c.SignedPost(ctx, orderPath, params, &resp); err != nil {
		return OrderResponse{}, err
	}
	return resp, nil
}
