package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/timering/internal/errors"
)

// Field numbers. See the package documentation for the schema.
const (
	frameSeq   protowire.Number = 1
	frameBatch protowire.Number = 2
	frameError protowire.Number = 3

	batchDim    protowire.Number = 1
	batchStamps protowire.Number = 2
	batchValues protowire.Number = 3

	errorCode    protowire.Number = 1
	errorMessage protowire.Number = 2
)

// MaxDimension bounds the dimension a decoded batch may declare.
const MaxDimension = 1 << 16

// AppendDelimited appends the length-prefixed encoding of f to b.
func AppendDelimited(b []byte, f *Frame) []byte {
	msg := MarshalFrame(f)
	b = protowire.AppendVarint(b, uint64(len(msg)))
	return append(b, msg...)
}

// MarshalFrame encodes f without a length prefix.
func MarshalFrame(f *Frame) []byte {
	var b []byte
	if f.Seq != 0 {
		b = protowire.AppendTag(b, frameSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Seq)
	}
	if f.Batch != nil {
		b = protowire.AppendTag(b, frameBatch, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalBatch(f.Batch))
	}
	if f.Error != nil {
		b = protowire.AppendTag(b, frameError, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalError(f.Error))
	}
	return b
}

func marshalBatch(bt *Batch) []byte {
	var b []byte
	b = protowire.AppendTag(b, batchDim, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(bt.Dim))

	if len(bt.Stamps) > 0 {
		var packed []byte
		for _, s := range bt.Stamps {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(s))
		}
		b = protowire.AppendTag(b, batchStamps, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	if len(bt.Values) > 0 {
		b = protowire.AppendTag(b, batchValues, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(len(bt.Values)*8))
		for _, v := range bt.Values {
			b = protowire.AppendFixed64(b, math.Float64bits(v))
		}
	}
	return b
}

func marshalError(e *Error) []byte {
	var b []byte
	b = protowire.AppendTag(b, errorCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(e.Code)))
	b = protowire.AppendTag(b, errorMessage, protowire.BytesType)
	b = protowire.AppendString(b, e.Message)
	return b
}

// UnmarshalFrame decodes a frame without a length prefix. Unknown fields
// are skipped.
func UnmarshalFrame(b []byte) (*Frame, error) {
	f := &Frame{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == frameSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Seq = v
			return n, nil

		case num == frameBatch && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			bt, err := unmarshalBatch(v)
			if err != nil {
				return 0, err
			}
			f.Batch = bt
			return n, nil

		case num == frameError && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			e, err := unmarshalError(v)
			if err != nil {
				return 0, err
			}
			f.Error = e
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func unmarshalBatch(b []byte) (*Batch, error) {
	bt := &Batch{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == batchDim && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, nil
			}
			if v > MaxDimension {
				return 0, fmt.Errorf("dimension %d: %w", v, errors.ErrMalformedFrame)
			}
			bt.Dim = int(v)
			return n, nil

		case num == batchStamps && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			bt.Stamps = append(bt.Stamps, protowire.DecodeZigZag(v))
			return n, nil

		case num == batchStamps && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return 0, fmt.Errorf("stamps: %w", errors.ErrMalformedFrame)
				}
				bt.Stamps = append(bt.Stamps, protowire.DecodeZigZag(v))
				packed = packed[m:]
			}
			return n, nil

		case num == batchValues && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			bt.Values = append(bt.Values, math.Float64frombits(v))
			return n, nil

		case num == batchValues && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if len(packed)%8 != 0 {
				return 0, fmt.Errorf("values: %d bytes: %w", len(packed), errors.ErrMalformedFrame)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				bt.Values = append(bt.Values, math.Float64frombits(v))
				packed = packed[m:]
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	if err := bt.validate(); err != nil {
		return nil, err
	}
	return bt, nil
}

func unmarshalError(b []byte) (*Error, error) {
	e := &Error{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == errorCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Code = int32(v)
			return n, nil
		case num == errorMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.Message = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// walkFields calls fn for every field in b. fn consumes the field value and
// returns the number of bytes used, or a negative protowire error code.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tag: %v: %w", protowire.ParseError(n), errors.ErrMalformedFrame)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("field %d: %v: %w", num, protowire.ParseError(m), errors.ErrMalformedFrame)
		}
		b = b[m:]
	}
	return nil
}
