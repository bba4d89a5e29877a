// Package sign produces the message authentication codes attached to
// private requests.
package sign

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// MAC returns the hex HMAC-SHA512 of message under secret. The message must
// be the byte-exact canonical encoding that is transmitted; any difference
// between the signed bytes and the sent bytes is rejected by the exchange
// as a signature mismatch. Pure function, safe for concurrent use.
func MAC(secret, message string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
