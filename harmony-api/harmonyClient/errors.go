package harmonyClient

import "errors"

var (
	ErrNetwork          = errors.New("hub network error")
	ErrConnect          = errors.New("hub connect error")
	ErrTimeout          = errors.New("hub request timeout")
	ErrProtocol         = errors.New("hub protocol error")
	ErrTransportClosed  = errors.New("hub transport closed")
	ErrActivityNotFound = errors.New("activity not found")
	ErrDeviceNotFound   = errors.New("device not found")
)
