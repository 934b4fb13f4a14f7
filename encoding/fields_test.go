package encoding

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	a, b interface{}
}

func (p pair) Values() []interface{} {
	return []interface{}{p.a, p.b}
}

func TestFieldList_Write(t *testing.T) {
	f := NewFieldList([]string{`result`, `return-info`})

	byt, err := f.Write([]interface{}{`query-answer`, map[string]interface{}{`host`: `h1`, `port`: 3772}})
	require.NoError(t, err)
	assert.Equal(t, `{"result":"query-answer","return-info":{"host":"h1","port":3772}}`, string(byt))
}

func TestFieldList_WriteKeepsFieldOrder(t *testing.T) {
	f := NewFieldList([]string{`z`, `a`, `m`})

	byt, err := f.Write([]interface{}{1, nil, true})
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":null,"m":true}`, string(byt))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(byt, &decoded))
	assert.Len(t, decoded, 3)
}

func TestFieldList_WriteInvalidSchema(t *testing.T) {
	f := NewFieldList([]string{`a`, `b`})

	_, err := f.Write([]interface{}{1})
	assert.Equal(t, ErrInvalidSchema, err)

	_, err = f.Write(nil)
	assert.Equal(t, ErrInvalidSchema, err)

	_, err = f.Write([]interface{}{1, 2, 3})
	assert.Equal(t, ErrInvalidSchema, err)
}

func TestFieldList_WriteUnsupportedValue(t *testing.T) {
	f := NewFieldList([]string{`a`})

	_, err := f.Write([]interface{}{make(chan int)})
	assert.Error(t, err)
}

func TestFieldList_Encode(t *testing.T) {
	f := NewFieldList([]string{`result`, `return-info`})

	byt, err := f.Encode(pair{`x`, `y`})
	require.NoError(t, err)
	assert.Equal(t, `{"result":"x","return-info":"y"}`, string(byt))

	_, err = f.Encode(`not a valuer`)
	assert.Error(t, err)
}

func TestStringEncoder(t *testing.T) {
	byt, err := StringEncoder{}.Encode(`abc`)
	require.NoError(t, err)
	assert.Equal(t, []byte(`abc`), byt)

	v, err := StringEncoder{}.Decode([]byte(`abc`))
	require.NoError(t, err)
	assert.Equal(t, `abc`, v)

	_, err = StringEncoder{}.Encode(1)
	assert.Error(t, err)
}

func TestJsonEncoder_Decode(t *testing.T) {
	v, err := JsonEncoder{}.Decode([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{`a`: float64(1)}, v)

	_, err = JsonEncoder{}.Decode([]byte(`{`))
	assert.Error(t, err)
}
