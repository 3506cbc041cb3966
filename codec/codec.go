// Package codec holds the msgpack encoding shared by protocol messages,
// stable log records and the hub's HTTP bodies.
package codec

import (
	"io"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

var handle = &codec.MsgpackHandle{}

// ContentType is sent with every msgpack HTTP body.
const ContentType = "application/msgpack"

// Encode returns the msgpack encoding of v.
func Encode(v interface{}) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, handle).Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode fills v from a msgpack buffer.
func Decode(b []byte, v interface{}) error {
	return codec.NewDecoderBytes(b, handle).Decode(v)
}

// EncodeTo writes the encoding of v to w.
func EncodeTo(w io.Writer, v interface{}) error {
	return codec.NewEncoder(w, handle).Encode(v)
}

// DecodeFrom reads one value from r into v.
func DecodeFrom(r io.Reader, v interface{}) error {
	return codec.NewDecoder(r, handle).Decode(v)
}
