package encoding

import (
	"github.com/pickme-go/errors"
)

type StringEncoder struct{}

func (StringEncoder) Encode(v interface{}) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	}

	return nil, errors.New(`invalid type, expected string`)
}

func (StringEncoder) Decode(data []byte) (interface{}, error) {
	return string(data), nil
}
