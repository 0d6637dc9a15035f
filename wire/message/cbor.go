package message

import "github.com/fxamacker/cbor/v2"

// CBOREncode is the alternate, self-describing codec for application
// messages that would rather not hand-roll their own cursor encoding
// (SPEC_FULL §1.1). It satisfies the same encode(value, writer) -> error
// shape as the hand-rolled Writer methods: the CBOR bytes are appended to
// w's buffer with no extra length prefix, since the frame itself already
// carries the payload length.
func CBOREncode(w *Writer, v interface{}) error {
	b, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	w.PutBytes(b)
	return nil
}

// CBORDecode reads the rest of r's buffer as one CBOR value into v.
func CBORDecode(r *Reader, v interface{}) error {
	b, err := r.Bytes(r.Remaining())
	if err != nil {
		return err
	}
	return cbor.Unmarshal(b, v)
}
