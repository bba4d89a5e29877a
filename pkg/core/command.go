package core

import (
	"fmt"
	"net/url"
)

// Kind classifies a command as public (unauthenticated) or private
// (authenticated, nonce + signature required).
type Kind int

const (
	// KindPublic commands hit the public endpoint with a plain GET.
	KindPublic Kind = iota
	// KindPrivate commands hit the trading endpoint with a signed POST.
	KindPrivate
)

// String returns the string representation of the command kind.
func (k Kind) String() string {
	return [...]string{"PUBLIC", "PRIVATE"}[k]
}

type commandSpec struct {
	kind     Kind
	required []string
}

var publicCommands = map[string][]string{
	"returnTicker":     nil,
	"return24hVolume":  nil,
	"returnOrderBook":  {"currencyPair"},
	"marketTradeHist":  {"currencyPair"},
	"returnChartData":  {"currencyPair", "period", "start", "end"},
	"returnCurrencies": nil,
	"returnLoanOrders": {"currency"},
}

var privateCommands = map[string][]string{
	"returnBalances":                 nil,
	"returnCompleteBalances":         nil,
	"returnDepositAddresses":         nil,
	"generateNewAddress":             {"currency"},
	"returnDepositsWithdrawals":      {"start", "end"},
	"returnOpenOrders":               {"currencyPair"},
	"returnTradeHistory":             {"currencyPair"},
	"returnAvailableAccountBalances": nil,
	"returnTradableBalances":         nil,
	"returnOpenLoanOffers":           nil,
	"returnOrderTrades":              {"orderNumber"},
	"returnOrderStatus":              {"orderNumber"},
	"returnActiveLoans":              nil,
	"returnLendingHistory":           {"start", "end"},
	"createLoanOffer":                {"currency", "amount", "duration", "autoRenew", "lendingRate"},
	"cancelLoanOffer":                {"orderNumber"},
	"toggleAutoRenew":                {"orderNumber"},
	"buy":                            {"currencyPair", "rate", "amount"},
	"sell":                           {"currencyPair", "rate", "amount"},
	"cancelOrder":                    {"orderNumber"},
	"cancelAllOrders":                nil,
	"moveOrder":                      {"orderNumber", "rate"},
	"withdraw":                       {"currency", "amount", "address"},
	"returnFeeInfo":                  nil,
	"transferBalance":                {"currency", "amount", "fromAccount", "toAccount"},
	"returnMarginAccountSummary":     nil,
	"marginBuy":                      {"currencyPair", "rate", "amount"},
	"marginSell":                     {"currencyPair", "rate", "amount"},
	"getMarginPosition":              {"currencyPair"},
	"closeMarginPosition":            {"currencyPair"},
}

// registry is the closed command set, built once at package init.
var registry = buildRegistry()

func buildRegistry() map[string]commandSpec {
	r := make(map[string]commandSpec, len(publicCommands)+len(privateCommands))
	for name, required := range publicCommands {
		r[name] = commandSpec{kind: KindPublic, required: required}
	}
	for name, required := range privateCommands {
		r[name] = commandSpec{kind: KindPrivate, required: required}
	}
	return r
}

// Classify resolves a command name to its kind. Unknown names fail with
// ErrInvalidCommand. Private commands fail with ErrMissingCredentials when
// hasCredentials is false; the check runs before any rate-limit or network
// cost is incurred.
func Classify(name string, hasCredentials bool) (Kind, error) {
	spec, ok := registry[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommand, name)
	}
	if spec.kind == KindPrivate && !hasCredentials {
		return 0, fmt.Errorf("%w: command %q", ErrMissingCredentials, name)
	}
	return spec.kind, nil
}

// ValidateArgs checks that every parameter the command requires is present
// and non-empty. The command name must already be known to the registry.
func ValidateArgs(name string, args url.Values) error {
	spec, ok := registry[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, name)
	}
	for _, param := range spec.required {
		if args.Get(param) == "" {
			return fmt.Errorf("%w: %q needs %q", ErrMissingParameter, name, param)
		}
	}
	return nil
}

// Commands returns all registered command names. Useful for diagnostics.
func Commands() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
