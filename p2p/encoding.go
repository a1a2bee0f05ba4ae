package p2p

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
)

// Codec turns a Protocol into bytes and back. Transports that cross a
// process boundary are configured with one.
type Codec interface {
	Encode(msg Protocol) ([]byte, error)
	Decode(data []byte, msg *Protocol) error
	Name() string
}

type GOBCodec struct{}

func (GOBCodec) Encode(msg Protocol) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GOBCodec) Decode(data []byte, msg *Protocol) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(msg)
}

func (GOBCodec) Name() string { return "gob" }

// JSONCodec rejects unknown fields and trailing content.
type JSONCodec struct{}

type jsonProtocol struct {
	ID      string `json:"id,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

func (JSONCodec) Encode(msg Protocol) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(jsonProtocol(msg)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (JSONCodec) Decode(data []byte, msg *Protocol) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var jp jsonProtocol
	if err := dec.Decode(&jp); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return fmt.Errorf("json trailing content")
	}
	*msg = Protocol(jp)
	return nil
}

func (JSONCodec) Name() string { return "json" }

type BSONCodec struct{}

type bsonProtocol struct {
	ID      string `bson:"id,omitempty"`
	From    string `bson:"from,omitempty"`
	To      string `bson:"to,omitempty"`
	Payload []byte `bson:"payload,omitempty"`
}

func (BSONCodec) Encode(msg Protocol) ([]byte, error) {
	return bson.Marshal(bsonProtocol(msg))
}

func (BSONCodec) Decode(data []byte, msg *Protocol) error {
	var bp bsonProtocol
	if err := bson.Unmarshal(data, &bp); err != nil {
		return fmt.Errorf("bson decode: %w", err)
	}
	*msg = Protocol(bp)
	return nil
}

func (BSONCodec) Name() string { return "bson" }

// CodecByName resolves a configured codec name. The empty name selects gob.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "gob":
		return GOBCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	case "bson":
		return BSONCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec: %q", name)
}
