package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Spans for building query time ranges, mirroring the exchange's own
// timestamp math.
const (
	Minute = 60 * time.Second
	Hour   = 60 * Minute
	Day    = 24 * Hour
	Week   = 7 * Day
	Month  = 30 * Day
	Year   = 365 * Day
)

// chartPeriods is the closed set of candlestick widths the exchange serves.
var chartPeriods = map[int]bool{
	300: true, 900: true, 1800: true, 7200: true, 14400: true, 86400: true,
}

// orderTypes is the closed set of order flags; the flag name itself is the
// form key, with value 1.
var orderTypes = map[string]bool{
	"fillOrKill":        true,
	"immediateOrCancel": true,
	"postOnly":          true,
}

func decimal(d *apd.Decimal) string {
	return d.Text('f')
}

func unix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// setRange fills start/end, defaulting a zero start to now-span and a zero
// end to now.
func setRange(args url.Values, start, end time.Time, span time.Duration) {
	if start.IsZero() {
		start = time.Now().Add(-span)
	}
	if end.IsZero() {
		end = time.Now()
	}
	args.Set("start", unix(start))
	args.Set("end", unix(end))
}

func checkOrderType(orderType string) error {
	if orderType != "" && !orderTypes[orderType] {
		return fmt.Errorf("invalid order type %q", orderType)
	}
	return nil
}

// ReturnTicker returns the ticker for all markets.
func (c *Client) ReturnTicker(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnTicker", nil)
}

// Return24hVolume returns the 24-hour volume for all markets.
func (c *Client) Return24hVolume(ctx context.Context) (any, error) {
	return c.Call(ctx, "return24hVolume", nil)
}

// ReturnOrderBook returns the order book for the given market, or for all
// markets when pair is empty. A non-positive depth defaults to 20.
func (c *Client) ReturnOrderBook(ctx context.Context, pair string, depth int) (any, error) {
	if pair == "" {
		pair = "all"
	}
	if depth <= 0 {
		depth = 20
	}
	args := url.Values{}
	args.Set("currencyPair", pair)
	args.Set("depth", strconv.Itoa(depth))
	return c.Call(ctx, "returnOrderBook", args)
}

// MarketTradeHist returns the public trade history for a market. A zero
// start defaults to one hour ago, a zero end to now.
func (c *Client) MarketTradeHist(ctx context.Context, pair string, start, end time.Time) (any, error) {
	args := url.Values{}
	args.Set("currencyPair", pair)
	setRange(args, start, end, Hour)
	return c.Call(ctx, "marketTradeHist", args)
}

// ReturnChartData returns candlestick chart data. The period must be one
// of 300, 900, 1800, 7200, 14400, or 86400 seconds. A zero start defaults
// to one day ago.
func (c *Client) ReturnChartData(ctx context.Context, pair string, period int, start, end time.Time) (any, error) {
	if !chartPeriods[period] {
		return nil, fmt.Errorf("invalid chart period %d", period)
	}
	args := url.Values{}
	args.Set("currencyPair", pair)
	args.Set("period", strconv.Itoa(period))
	setRange(args, start, end, Day)
	return c.Call(ctx, "returnChartData", args)
}

// ReturnCurrencies returns information about all listed currencies.
func (c *Client) ReturnCurrencies(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnCurrencies", nil)
}

// ReturnLoanOrders returns the loan order book for a currency.
func (c *Client) ReturnLoanOrders(ctx context.Context, currency string) (any, error) {
	args := url.Values{}
	args.Set("currency", currency)
	return c.Call(ctx, "returnLoanOrders", args)
}

// ReturnBalances returns all available balances.
func (c *Client) ReturnBalances(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnBalances", nil)
}

// ReturnCompleteBalances returns balances including open-order holds and
// estimated BTC value. An empty account queries the exchange account only;
// pass "all" to include margin and lending accounts.
func (c *Client) ReturnCompleteBalances(ctx context.Context, account string) (any, error) {
	args := url.Values{}
	if account != "" {
		args.Set("account", account)
	}
	return c.Call(ctx, "returnCompleteBalances", args)
}

// ReturnDepositAddresses returns the deposit address for each currency.
func (c *Client) ReturnDepositAddresses(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnDepositAddresses", nil)
}

// GenerateNewAddress generates a new deposit address for a currency.
func (c *Client) GenerateNewAddress(ctx context.Context, currency string) (any, error) {
	args := url.Values{}
	args.Set("currency", currency)
	return c.Call(ctx, "generateNewAddress", args)
}

// ReturnDepositsWithdrawals returns deposit and withdrawal history. A zero
// start defaults to one month ago, a zero end to now.
func (c *Client) ReturnDepositsWithdrawals(ctx context.Context, start, end time.Time) (any, error) {
	args := url.Values{}
	setRange(args, start, end, Month)
	return c.Call(ctx, "returnDepositsWithdrawals", args)
}

// ReturnOpenOrders returns open orders for a market, or for all markets
// when pair is empty.
func (c *Client) ReturnOpenOrders(ctx context.Context, pair string) (any, error) {
	if pair == "" {
		pair = "all"
	}
	args := url.Values{}
	args.Set("currencyPair", pair)
	return c.Call(ctx, "returnOpenOrders", args)
}

// ReturnTradeHistory returns the account's trade history for a market, or
// for all markets when pair is empty. A zero start defaults to one day
// ago; a non-positive limit is omitted.
func (c *Client) ReturnTradeHistory(ctx context.Context, pair string, start, end time.Time, limit int) (any, error) {
	if pair == "" {
		pair = "all"
	}
	args := url.Values{}
	args.Set("currencyPair", pair)
	setRange(args, start, end, Day)
	if limit > 0 {
		args.Set("limit", strconv.Itoa(limit))
	}
	return c.Call(ctx, "returnTradeHistory", args)
}

// ReturnOrderTrades returns all trades involving an order.
func (c *Client) ReturnOrderTrades(ctx context.Context, orderNumber string) (any, error) {
	args := url.Values{}
	args.Set("orderNumber", orderNumber)
	return c.Call(ctx, "returnOrderTrades", args)
}

// ReturnOrderStatus returns the status of an open order.
func (c *Client) ReturnOrderStatus(ctx context.Context, orderNumber string) (any, error) {
	args := url.Values{}
	args.Set("orderNumber", orderNumber)
	return c.Call(ctx, "returnOrderStatus", args)
}

// Buy places a limit buy order. orderType may be empty or one of
// fillOrKill, immediateOrCancel, postOnly.
func (c *Client) Buy(ctx context.Context, pair string, rate, amount *apd.Decimal, orderType string) (any, error) {
	return c.placeOrder(ctx, "buy", pair, rate, amount, orderType)
}

// Sell places a limit sell order. orderType may be empty or one of
// fillOrKill, immediateOrCancel, postOnly.
func (c *Client) Sell(ctx context.Context, pair string, rate, amount *apd.Decimal, orderType string) (any, error) {
	return c.placeOrder(ctx, "sell", pair, rate, amount, orderType)
}

func (c *Client) placeOrder(ctx context.Context, command, pair string, rate, amount *apd.Decimal, orderType string) (any, error) {
	if err := checkOrderType(orderType); err != nil {
		return nil, err
	}
	args := url.Values{}
	args.Set("currencyPair", pair)
	args.Set("rate", decimal(rate))
	args.Set("amount", decimal(amount))
	if orderType != "" {
		args.Set(orderType, "1")
	}
	return c.Call(ctx, command, args)
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, orderNumber string) (any, error) {
	args := url.Values{}
	args.Set("orderNumber", orderNumber)
	return c.Call(ctx, "cancelOrder", args)
}

// CancelAllOrders cancels all open orders, or only those in the given
// market when pair is non-empty.
func (c *Client) CancelAllOrders(ctx context.Context, pair string) (any, error) {
	args := url.Values{}
	if pair != "" {
		args.Set("currencyPair", pair)
	}
	return c.Call(ctx, "cancelAllOrders", args)
}

// MoveOrder cancels an order and replaces it at a new rate, optionally
// with a new amount. orderType may be empty, immediateOrCancel, or
// postOnly.
func (c *Client) MoveOrder(ctx context.Context, orderNumber string, rate, amount *apd.Decimal, orderType string) (any, error) {
	if orderType == "fillOrKill" {
		return nil, fmt.Errorf("invalid order type %q", orderType)
	}
	if err := checkOrderType(orderType); err != nil {
		return nil, err
	}
	args := url.Values{}
	args.Set("orderNumber", orderNumber)
	args.Set("rate", decimal(rate))
	if amount != nil {
		args.Set("amount", decimal(amount))
	}
	if orderType != "" {
		args.Set(orderType, "1")
	}
	return c.Call(ctx, "moveOrder", args)
}

// Withdraw withdraws funds to an address. paymentID is optional and only
// meaningful for currencies that use one.
func (c *Client) Withdraw(ctx context.Context, currency string, amount *apd.Decimal, address, paymentID string) (any, error) {
	args := url.Values{}
	args.Set("currency", currency)
	args.Set("amount", decimal(amount))
	args.Set("address", address)
	if paymentID != "" {
		args.Set("paymentId", paymentID)
	}
	return c.Call(ctx, "withdraw", args)
}

// ReturnFeeInfo returns the account's current fee schedule and volume.
func (c *Client) ReturnFeeInfo(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnFeeInfo", nil)
}

// ReturnAvailableAccountBalances returns balances sorted by account type.
// An empty account returns all of them.
func (c *Client) ReturnAvailableAccountBalances(ctx context.Context, account string) (any, error) {
	args := url.Values{}
	if account != "" {
		args.Set("account", account)
	}
	return c.Call(ctx, "returnAvailableAccountBalances", args)
}

// ReturnTradableBalances returns the margin tradable balance per market.
func (c *Client) ReturnTradableBalances(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnTradableBalances", nil)
}

// TransferBalance moves funds between exchange, margin, and lending
// accounts.
func (c *Client) TransferBalance(ctx context.Context, currency string, amount *apd.Decimal, fromAccount, toAccount string) (any, error) {
	args := url.Values{}
	args.Set("currency", currency)
	args.Set("amount", decimal(amount))
	args.Set("fromAccount", fromAccount)
	args.Set("toAccount", toAccount)
	return c.Call(ctx, "transferBalance", args)
}

// ReturnMarginAccountSummary returns a summary of the margin account.
func (c *Client) ReturnMarginAccountSummary(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnMarginAccountSummary", nil)
}

// MarginBuy places a margin buy order. A nil lendingRate defaults to 2%.
func (c *Client) MarginBuy(ctx context.Context, pair string, rate, amount, lendingRate *apd.Decimal) (any, error) {
	return c.marginOrder(ctx, "marginBuy", pair, rate, amount, lendingRate)
}

// MarginSell places a margin sell order. A nil lendingRate defaults to 2%.
func (c *Client) MarginSell(ctx context.Context, pair string, rate, amount, lendingRate *apd.Decimal) (any, error) {
	return c.marginOrder(ctx, "marginSell", pair, rate, amount, lendingRate)
}

func (c *Client) marginOrder(ctx context.Context, command, pair string, rate, amount, lendingRate *apd.Decimal) (any, error) {
	args := url.Values{}
	args.Set("currencyPair", pair)
	args.Set("rate", decimal(rate))
	args.Set("amount", decimal(amount))
	if lendingRate != nil {
		args.Set("lendingRate", decimal(lendingRate))
	} else {
		args.Set("lendingRate", "2")
	}
	return c.Call(ctx, command, args)
}

// GetMarginPosition returns the margin position for a market, or for all
// markets when pair is empty.
func (c *Client) GetMarginPosition(ctx context.Context, pair string) (any, error) {
	if pair == "" {
		pair = "all"
	}
	args := url.Values{}
	args.Set("currencyPair", pair)
	return c.Call(ctx, "getMarginPosition", args)
}

// CloseMarginPosition closes the margin position in a market at market
// price.
func (c *Client) CloseMarginPosition(ctx context.Context, pair string) (any, error) {
	args := url.Values{}
	args.Set("currencyPair", pair)
	return c.Call(ctx, "closeMarginPosition", args)
}

// CreateLoanOffer offers a loan of the given currency and amount for up to
// duration days at lendingRate percent.
func (c *Client) CreateLoanOffer(ctx context.Context, currency string, amount, lendingRate *apd.Decimal, duration int, autoRenew bool) (any, error) {
	args := url.Values{}
	args.Set("currency", currency)
	args.Set("amount", decimal(amount))
	args.Set("duration", strconv.Itoa(duration))
	if autoRenew {
		args.Set("autoRenew", "1")
	} else {
		args.Set("autoRenew", "0")
	}
	args.Set("lendingRate", decimal(lendingRate))
	return c.Call(ctx, "createLoanOffer", args)
}

// CancelLoanOffer cancels an open loan offer.
func (c *Client) CancelLoanOffer(ctx context.Context, orderNumber string) (any, error) {
	args := url.Values{}
	args.Set("orderNumber", orderNumber)
	return c.Call(ctx, "cancelLoanOffer", args)
}

// ReturnOpenLoanOffers returns the account's open loan offers.
func (c *Client) ReturnOpenLoanOffers(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnOpenLoanOffers", nil)
}

// ReturnActiveLoans returns the account's active loans.
func (c *Client) ReturnActiveLoans(ctx context.Context) (any, error) {
	return c.Call(ctx, "returnActiveLoans", nil)
}

// ReturnLendingHistory returns lending history. A zero start defaults to
// one month ago; a non-positive limit is omitted.
func (c *Client) ReturnLendingHistory(ctx context.Context, start, end time.Time, limit int) (any, error) {
	args := url.Values{}
	setRange(args, start, end, Month)
	if limit > 0 {
		args.Set("limit", strconv.Itoa(limit))
	}
	return c.Call(ctx, "returnLendingHistory", args)
}

// ToggleAutoRenew toggles the autoRenew setting on an active loan.
func (c *Client) ToggleAutoRenew(ctx context.Context, orderNumber string) (any, error) {
	args := url.Values{}
	args.Set("orderNumber", orderNumber)
	return c.Call(ctx, "toggleAutoRenew", args)
}
