package feed

// ChannelState tracks where a feed channel sits in its subscription
// lifecycle. Transitions are driven by local intent (SubscribePending on a
// subscribe send) and by server acks.
type ChannelState int

const (
	// Unsubscribed means no subscription exists and none is in flight.
	Unsubscribed ChannelState = iota
	// SubscribePending means a subscribe was sent and no ack has arrived.
	SubscribePending
	// Subscribed means the server acknowledged the subscription.
	Subscribed
)

// String returns the string representation of the channel state.
func (s ChannelState) String() string {
	return [...]string{"unsubscribed", "subscribe_pending", "subscribed"}[s]
}

// Well-known channel ids. Market channels get their ids from the ticker
// snapshot at engine construction.
const (
	AccountChannel   = "account"
	TickerChannel    = "ticker"
	VolumeChannel    = "24hvolume"
	HeartbeatChannel = "heartbeat"

	accountID   int64 = 1000
	tickerID    int64 = 1002
	volumeID    int64 = 1003
	heartbeatID int64 = 1010
)

// channel is one demux target. Access is serialized by the engine mutex.
type channel struct {
	name     string
	id       int64
	state    ChannelState
	intent   bool
	callback Callback
}
