// Package codec serializes broker items for backends that store bytes.
package codec

import (
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Codec converts values to and from bytes.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSON is the default Codec. It is compatible with encoding/json.
var JSON Codec = jsonCodec{api: sonic.ConfigStd}

type jsonCodec struct {
	api sonic.API
}

func (c jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := c.api.Marshal(v)
	return b, errors.Wrap(err, "unable to encode JSON")
}

func (c jsonCodec) Unmarshal(data []byte, v interface{}) error {
	err := c.api.Unmarshal(data, v)
	return errors.Wrap(err, "unable to decode JSON")
}

// OrDefault returns c, or JSON when c is nil.
func OrDefault(c Codec) Codec {
	if c == nil {
		return JSON
	}
	return c
}
