package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	ErrUnsupportedOrderType   = errors.New("order: unsupported type")
)
