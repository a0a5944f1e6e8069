package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Scene operations.
	ErrNotFound      = "E_NOT_FOUND"
	ErrInvalid       = "E_INVALID"
	ErrAlreadyExists = "E_ALREADY_EXISTS"
	ErrAtomicAborted = "E_ATOMIC_ABORTED"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrNotFound:        {},
	ErrInvalid:         {},
	ErrAlreadyExists:   {},
	ErrAtomicAborted:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
