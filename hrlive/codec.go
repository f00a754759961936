package hrlive

import (
	"bytes"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes and decodes transport frames.
type Codec interface {
	Name() string
	MessageType() websocket.MessageType
	EncodeFrame(event EventName, data any) ([]byte, error)
	DecodeFrame(b []byte) (Frame, error)
	Unmarshal(data []byte, v any) error
}

// CodecByName returns the codec registered under name. Empty selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, NewError(ErrorInvalidConfig, "unknown codec "+name)
	}
}

// JSONCodec sends frames as websocket text messages.
type JSONCodec struct{}

type jsonOutFrame struct {
	Event EventName `json:"event"`
	Data  any       `json:"data,omitempty"`
}

type jsonInFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ProtocolError  `json:"error,omitempty"`
}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) MessageType() websocket.MessageType { return websocket.MessageText }

func (JSONCodec) EncodeFrame(event EventName, data any) ([]byte, error) {
	return json.Marshal(jsonOutFrame{Event: event, Data: data})
}

func (JSONCodec) DecodeFrame(b []byte) (Frame, error) {
	var in jsonInFrame
	if err := json.Unmarshal(b, &in); err != nil {
		return Frame{}, err
	}
	return Frame{Event: in.Event, Data: in.Data, Error: in.Error}, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MsgpackCodec sends frames as websocket binary messages. Payload structs
// keep their json tags; no separate msgpack tags are needed.
type MsgpackCodec struct{}

type msgpackInFrame struct {
	Event string             `json:"event"`
	Data  msgpack.RawMessage `json:"data,omitempty"`
	Error *ProtocolError     `json:"error,omitempty"`
}

func (MsgpackCodec) Name() string                       { return "msgpack" }
func (MsgpackCodec) MessageType() websocket.MessageType { return websocket.MessageBinary }

func (MsgpackCodec) EncodeFrame(event EventName, data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(jsonOutFrame{Event: event, Data: data}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c MsgpackCodec) DecodeFrame(b []byte) (Frame, error) {
	var in msgpackInFrame
	if err := c.Unmarshal(b, &in); err != nil {
		return Frame{}, err
	}
	return Frame{Event: in.Event, Data: in.Data, Error: in.Error}, nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
