package xerr

type Error uint16

const (
	NotConnected Error = iota
	ClientClosed
	EncodeFailed
	DecodeFailed
	InvalidOrigin
	HandlerPanicked
	WriteFailed
	ReconnectExhausted
	HubClosed
	Unauthorized
)

var errorMap = map[Error]string{
	NotConnected:       "client is not connected",
	ClientClosed:       "client is closed",
	EncodeFailed:       "envelope encode failed",
	DecodeFailed:       "envelope decode failed",
	InvalidOrigin:      "invalid origin",
	HandlerPanicked:    "listener panicked",
	WriteFailed:        "frame write failed",
	ReconnectExhausted: "reconnect attempts exhausted",
	HubClosed:          "hub is closed",
	Unauthorized:       "unauthorized",
}

func (e Error) Error() string {
	return errorMap[e]
}
func (e Error) String() string {
	return errorMap[e]
}
