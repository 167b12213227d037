// Package codec encodes image metadata as CBOR.
package codec

import "github.com/fxamacker/cbor/v2"

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2), so the same
// metadata always produces identical bytes and identical digests.
var encMode cbor.EncMode

// decMode rejects duplicate map keys and caps nesting; unknown fields are
// ignored so newer images can add fields.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
