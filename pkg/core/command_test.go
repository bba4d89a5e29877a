package core

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		hasCreds bool
		wantKind Kind
		wantErr  error
	}{
		{"public", "returnTicker", false, KindPublic, nil},
		{"public_with_creds", "returnOrderBook", true, KindPublic, nil},
		{"private", "buy", true, KindPrivate, nil},
		{"private_no_creds", "buy", false, 0, ErrMissingCredentials},
		{"private_balances_no_creds", "returnBalances", false, 0, ErrMissingCredentials},
		{"unknown", "returnMoon", true, 0, ErrInvalidCommand},
		{"empty", "", true, 0, ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := Classify(tt.command, tt.hasCreds)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestValidateArgs(t *testing.T) {
	args := url.Values{}
	args.Set("currencyPair", "BTC_ETH")
	args.Set("rate", "0.01")
	args.Set("amount", "1.5")

	assert.NoError(t, ValidateArgs("buy", args))

	args.Del("rate")
	err := ValidateArgs("buy", args)
	assert.ErrorIs(t, err, ErrMissingParameter)
	assert.Contains(t, err.Error(), "rate")
}

func TestValidateArgs_UnknownCommand(t *testing.T) {
	err := ValidateArgs("nope", url.Values{})
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "PUBLIC", KindPublic.String())
	assert.Equal(t, "PRIVATE", KindPrivate.String())
}

func TestCommands_Closed(t *testing.T) {
	names := Commands()
	assert.Len(t, names, len(publicCommands)+len(privateCommands))
	assert.Contains(t, names, "returnTicker")
	assert.Contains(t, names, "closeMarginPosition")
}
