package api

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
)

const (
	RespDepositOK  = "Successful deposit."
	RespPurchaseOK = "Successful purchase."
	RespFail       = "Fail"
	RespTimeout    = "Timeout during read"
	RespParseError = "Value error: cannot parse request"
)

// Request is the client side view of a protocol message.
type Request struct {
	Session  string           `json:"session,omitempty"`
	Deposit  *DepositRequest  `json:"deposit,omitempty"`
	Purchase *PurchaseRequest `json:"purchase,omitempty"`
}

type DepositRequest struct {
	Coins map[int]int `json:"coins"`
}

type PurchaseRequest struct {
	Value int `json:"value"`
}

type Response struct {
	Response     string      `json:"response"`
	Success      bool        `json:"success"`
	Coins        map[int]int `json:"coins,omitempty"`
	DepositTotal *int        `json:"deposit_total,omitempty"`
	Errors       Errors      `json:"errors,omitempty"`
	Session      string      `json:"session,omitempty"`
}

// Encode renders the response the way it goes on the wire.
func (r Response) Encode() ([]byte, error) {
	return json.MarshalIndent(r, "", "    ")
}

// Errors is written as a JSON object keyed "0", "1", ... in insertion order.
type Errors []string

func (e Errors) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, msg := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(strconv.Itoa(i))
		val, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts an object, an array or a bare string and keeps the
// order the messages appear in.
func (e *Errors) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	out := Errors{}
	switch {
	case res.IsObject(), res.IsArray():
		res.ForEach(func(_, value gjson.Result) bool {
			out = append(out, value.String())
			return true
		})
	case res.Type == gjson.Null:
		out = nil
	default:
		out = append(out, res.String())
	}
	*e = out
	return nil
}

func intPtr(v int) *int {
	return &v
}
