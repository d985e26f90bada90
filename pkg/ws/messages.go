package ws

import "encoding/json"

// Command represents a WebSocket command.
type Command string

const (
	CommandSubscribe   Command = "subscribe"
	CommandUnsubscribe Command = "unsubscribe"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeError        MessageType = "error"
	MessageTypeTicker       MessageType = "ticker"
)

// ChannelTicker is the public price channel. It is the only channel the
// feed subscribes to.
const ChannelTicker = "ticker"

// Request represents a WebSocket request message.
type Request struct {
	ID     int64           `json:"id"`
	Cmd    Command         `json:"cmd"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SubscribeParams represents parameters for a subscribe command.
type SubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// UnsubscribeParams represents parameters for an unsubscribe command.
type UnsubscribeParams struct {
	SIDs []int64 `json:"sids"`
}

// Response represents a generic WebSocket response envelope.
type Response struct {
	ID   int64           `json:"id,omitempty"`
	SID  int64           `json:"sid,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Type MessageType     `json:"type"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// SubscribedMsg represents the payload of a subscribed response.
type SubscribedMsg struct {
	Channel string `json:"channel"`
	SID     int64  `json:"sid"`
}

// ErrorMsg represents the payload of an error response.
type ErrorMsg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// TickerUpdate represents a price update for a market. Prices are cents.
type TickerUpdate struct {
	MarketTicker string `json:"market_ticker"`
	Price        int    `json:"price"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	Volume       int    `json:"volume"`
	OpenInterest int    `json:"open_interest"`
	TS           int64  `json:"ts"`
}

// ParseResponse parses a raw message into a Response.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseTickerUpdate parses the Msg field of a ticker data message.
func ParseTickerUpdate(msg json.RawMessage) (*TickerUpdate, error) {
	var update TickerUpdate
	if err := json.Unmarshal(msg, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// ParseSubscribedMsg parses the Msg field of a subscribed response.
func ParseSubscribedMsg(msg json.RawMessage) (*SubscribedMsg, error) {
	var result SubscribedMsg
	if err := json.Unmarshal(msg, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ParseErrorMsg parses the Msg field of an error response.
func ParseErrorMsg(msg json.RawMessage) (*ErrorMsg, error) {
	var result ErrorMsg
	if err := json.Unmarshal(msg, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
