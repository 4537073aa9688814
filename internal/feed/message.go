package feed

import (
	"encoding/json"
	"errors"
	"time"

	"trading-signalbot/internal/model"
)

// errIgnored marks messages that carry no price, e.g. subscribe acks.
var errIgnored = errors.New("feed: message carries no observation")

// rpcEnvelope is a JSON-RPC channel notification:
//
//	{"jsonrpc":"2.0","method":"subscription","params":{"channel":"...","data":{"lastPrice":64210.5,"lastTickDirection":"PlusTick","time":1717000000123}}}
type rpcEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type rpcParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// lastPrice is the payload of a last-price channel. Time is Unix ms.
type lastPrice struct {
	LastPrice     *float64 `json:"lastPrice"`
	TickDirection string   `json:"lastTickDirection"`
	Time          int64    `json:"time"`
}

// plainMessage is a bare observation as produced by a custom feed:
//
//	{"ts":"2024-05-01T12:00:00Z","open":1,"high":2,"low":0.5,"close":1.5,"is_candle_close":true}
//	{"ts":"2024-05-01T12:00:01Z","price":1.51}
type plainMessage struct {
	model.Observation
	Price *float64 `json:"price"`
}

// decode parses one wire message into an observation. now is used when the
// message carries no timestamp.
func decode(raw []byte, now time.Time) (model.Observation, error) {
	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Observation{}, err
	}

	if len(env.Params) > 0 {
		var p rpcParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			// params as a positional array: not a notification
			return model.Observation{}, errIgnored
		}
		if len(p.Data) == 0 {
			return model.Observation{}, errIgnored
		}
		var lp lastPrice
		if err := json.Unmarshal(p.Data, &lp); err != nil {
			return model.Observation{}, err
		}
		if lp.LastPrice == nil {
			return model.Observation{}, errIgnored
		}
		ts := now
		if lp.Time > 0 {
			ts = time.UnixMilli(lp.Time)
		}
		return model.NewTick(ts, *lp.LastPrice), nil
	}
	if len(env.Result) > 0 || len(env.Error) > 0 {
		return model.Observation{}, errIgnored
	}

	var pm plainMessage
	if err := json.Unmarshal(raw, &pm); err != nil {
		return model.Observation{}, err
	}
	ts := pm.TS
	if ts.IsZero() {
		ts = now
	}
	switch {
	case pm.CandleClose:
		return model.NewCandle(ts, pm.Open, pm.High, pm.Low, pm.Close), nil
	case pm.Price != nil:
		return model.NewTick(ts, *pm.Price), nil
	case pm.Close > 0:
		return model.NewTick(ts, pm.Close), nil
	}
	return model.Observation{}, errIgnored
}
