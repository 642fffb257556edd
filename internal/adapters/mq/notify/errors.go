package notify

import "errors"

var (
	ErrNoBrokers    = errors.New("no kafka brokers configured")
	ErrUnknownCodec = errors.New("unknown codec")
	ErrPublish      = errors.New("publish alert event")
)
