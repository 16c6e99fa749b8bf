package codec

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
)

// ErrTruncated is returned by callers when a binary payload is shorter than its layout.
var ErrTruncated = errors.New("codec: payload truncated")

// FillFixedSize is the size of the fixed part of a fill payload. Symbol and tag
// follow as length-prefixed strings.
const FillFixedSize = 116

const (
	fillFlagCloseOnly uint16 = 1 << iota
	fillFlagRMetricsValid
)

// EncodeFill serializes a fill into a binary payload.
func EncodeFill(dst []byte, fill schema.Fill) []byte {
	size := FillFixedSize + stringSize(fill.Symbol) + stringSize(fill.Tag)
	if cap(dst) < size {
		dst = make([]byte, size)
	} else {
		dst = dst[:size]
	}

	var flags uint16
	if fill.CloseOnly {
		flags |= fillFlagCloseOnly
	}
	if fill.Risk.RMetricsValid {
		flags |= fillFlagRMetricsValid
	}

	binary.LittleEndian.PutUint64(dst[0:8], fill.OrderID)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(fill.Ts.UnixNano()))
	binary.LittleEndian.PutUint16(dst[16:18], uint16(fill.Side))
	binary.LittleEndian.PutUint16(dst[18:20], flags)
	putFloat(dst[20:28], fill.Qty)
	putFloat(dst[28:36], fill.Price)
	putFloat(dst[36:44], fill.Fee)
	putFloat(dst[44:52], fill.Slippage)
	putFloat(dst[52:60], fill.Costs.ReferencePrice)
	putFloat(dst[60:68], fill.Costs.IntrabarPrice)
	putFloat(dst[68:76], fill.Costs.SpreadCost)
	putFloat(dst[76:84], fill.Costs.SlippageCost)
	putFloat(dst[84:92], fill.Costs.Fee)
	putFloat(dst[92:100], fill.Risk.EntryQty)
	putFloat(dst[100:108], fill.Risk.StopDistance)
	putFloat(dst[108:116], fill.Risk.RiskAmount)

	off := FillFixedSize
	off = putString(dst, off, fill.Symbol)
	putString(dst, off, fill.Tag)
	return dst
}

// DecodeFill parses a fill payload.
func DecodeFill(src []byte) (schema.Fill, bool) {
	if len(src) < FillFixedSize {
		return schema.Fill{}, false
	}
	flags := binary.LittleEndian.Uint16(src[18:20])
	fill := schema.Fill{
		OrderID:  binary.LittleEndian.Uint64(src[0:8]),
		Ts:       time.Unix(0, int64(binary.LittleEndian.Uint64(src[8:16]))).UTC(),
		Side:     schema.Side(binary.LittleEndian.Uint16(src[16:18])),
		Qty:      getFloat(src[20:28]),
		Price:    getFloat(src[28:36]),
		Fee:      getFloat(src[36:44]),
		Slippage: getFloat(src[44:52]),
		Costs: schema.FillCosts{
			ReferencePrice: getFloat(src[52:60]),
			IntrabarPrice:  getFloat(src[60:68]),
			SpreadCost:     getFloat(src[68:76]),
			SlippageCost:   getFloat(src[76:84]),
			Fee:            getFloat(src[84:92]),
		},
		CloseOnly: flags&fillFlagCloseOnly != 0,
		Risk: schema.RiskContext{
			EntryQty:      getFloat(src[92:100]),
			StopDistance:  getFloat(src[100:108]),
			RiskAmount:    getFloat(src[108:116]),
			RMetricsValid: flags&fillFlagRMetricsValid != 0,
		},
	}

	var ok bool
	off := FillFixedSize
	if fill.Symbol, off, ok = getString(src, off); !ok {
		return schema.Fill{}, false
	}
	if fill.Tag, _, ok = getString(src, off); !ok {
		return schema.Fill{}, false
	}
	return fill, true
}

func putFloat(dst []byte, v float64) {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
}

func getFloat(src []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(src))
}

func stringSize(s string) int {
	return 2 + len(s)
}

func putString(dst []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(dst[off:off+2], uint16(len(s)))
	copy(dst[off+2:], s)
	return off + 2 + len(s)
}

func getString(src []byte, off int) (string, int, bool) {
	if len(src) < off+2 {
		return "", off, false
	}
	n := int(binary.LittleEndian.Uint16(src[off : off+2]))
	if len(src) < off+2+n {
		return "", off, false
	}
	return string(src[off+2 : off+2+n]), off + 2 + n, true
}
