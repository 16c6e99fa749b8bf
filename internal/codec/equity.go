package codec

import (
	"encoding/binary"
	"time"

	"backtest/internal/schema"
)

// EquityFixedSize is the size of the fixed part of an equity payload. The
// liquidation tag follows as a length-prefixed string.
const EquityFixedSize = 64

// EncodeEquity serializes an equity row into a binary payload.
func EncodeEquity(dst []byte, row schema.EquityRow) []byte {
	size := EquityFixedSize + stringSize(row.Liquidation)
	if cap(dst) < size {
		dst = make([]byte, size)
	} else {
		dst = dst[:size]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(row.Ts.UnixNano()))
	putFloat(dst[8:16], row.Cash)
	putFloat(dst[16:24], row.Equity)
	putFloat(dst[24:32], row.RealizedPnL)
	putFloat(dst[32:40], row.UnrealizedPnL)
	putFloat(dst[40:48], row.UsedMargin)
	putFloat(dst[48:56], row.FreeMargin)
	binary.LittleEndian.PutUint64(dst[56:64], 0)
	putString(dst, EquityFixedSize, row.Liquidation)
	return dst
}

// DecodeEquity parses an equity payload.
func DecodeEquity(src []byte) (schema.EquityRow, bool) {
	if len(src) < EquityFixedSize {
		return schema.EquityRow{}, false
	}
	row := schema.EquityRow{
		Ts:            time.Unix(0, int64(binary.LittleEndian.Uint64(src[0:8]))).UTC(),
		Cash:          getFloat(src[8:16]),
		Equity:        getFloat(src[16:24]),
		RealizedPnL:   getFloat(src[24:32]),
		UnrealizedPnL: getFloat(src[32:40]),
		UsedMargin:    getFloat(src[40:48]),
		FreeMargin:    getFloat(src[48:56]),
	}
	tag, _, ok := getString(src, EquityFixedSize)
	if !ok {
		return schema.EquityRow{}, false
	}
	row.Liquidation = tag
	return row, true
}
