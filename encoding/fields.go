/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pickme-go/errors"
)

var ErrInvalidSchema = errors.New(`invalid schema, value count does not match field count`)

// FieldList writes a flat JSON object whose keys are a fixed, ordered list of
// field names.
type FieldList struct {
	fields []string
}

func NewFieldList(fields []string) *FieldList {
	return &FieldList{
		fields: append([]string(nil), fields...),
	}
}

func (f *FieldList) Fields() []string {
	return f.fields
}

// Write encodes values[i] under fields[i], keeping the field order.
func (f *FieldList) Write(values []interface{}) ([]byte, error) {
	if values == nil || len(values) != len(f.fields) {
		return nil, ErrInvalidSchema
	}

	buf := new(bytes.Buffer)
	buf.WriteByte('{')
	for i, field := range f.fields {
		if i > 0 {
			buf.WriteByte(',')
		}

		name, err := json.Marshal(field)
		if err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`field [%s] encode failed`, field))
		}

		val, err := json.Marshal(values[i])
		if err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`value of field [%s] encode failed`, field))
		}

		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Encode writes a value exposing its own field values, such as a merged
// join result.
func (f *FieldList) Encode(v interface{}) ([]byte, error) {
	valuer, ok := v.(interface{ Values() []interface{} })
	if !ok {
		return nil, errors.New(fmt.Sprintf(`cannot encode [%T], expected a field valuer`, v))
	}

	return f.Write(valuer.Values())
}
