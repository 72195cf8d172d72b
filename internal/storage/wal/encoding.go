package wal

import (
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/wire"
)

// Records carry one wire frame each, so a WAL segment can be inspected
// with the same codec that replays batch streams.

func encodeBatch(seq uint64, b *wire.Batch) []byte {
	return wire.MarshalFrame(&wire.Frame{Seq: seq, Batch: b})
}

func decodeBatch(data []byte) (uint64, *wire.Batch, error) {
	f, err := wire.UnmarshalFrame(data)
	if err != nil {
		return 0, nil, err
	}
	if f.Batch == nil {
		return 0, nil, errors.Wrap(errors.ErrMalformedFrame, "record without batch")
	}
	return f.Seq, f.Batch, nil
}
