package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the wire format of a transport. WebSocket and HTTP use
// JSON; MQTT may use either.
type Encoding string

const (
	JSON    Encoding = "json"
	Msgpack Encoding = "msgpack"
)

func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(s); e {
	case JSON, Msgpack:
		return e, nil
	case "":
		return JSON, nil
	}
	return "", fmt.Errorf("unknown encoding %q", s)
}

// Marshal encodes v. msgpack reuses the json struct tags so both formats
// carry the same field names.
func (e Encoding) Marshal(v any) ([]byte, error) {
	if e != Msgpack {
		return json.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e Encoding) Unmarshal(data []byte, v any) error {
	if e != Msgpack {
		return json.Unmarshal(data, v)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (e Encoding) ContentType() string {
	if e == Msgpack {
		return "application/msgpack"
	}
	return "application/json"
}
