package redis

import (
	"encoding/base64"

	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker/codec"
)

// encode serializes v and base64 encodes the result so that list values stay
// printable.
func encode(c codec.Codec, v interface{}) (string, error) {
	b, err := c.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "unable to encode item")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decode(c codec.Codec, s string, v interface{}) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return errors.Wrap(err, "unable to decode string into bytes")
	}
	return errors.Wrap(c.Unmarshal(b, v), "unable to decode item")
}
