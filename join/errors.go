package join

import "github.com/pickme-go/errors"

var (
	ErrMalformedRecord = errors.New(`malformed record, correlation key and payload are required`)
	ErrPendingExpired  = errors.New(`pending record evicted before its counterpart arrived`)
	ErrPendingReplaced = errors.New(`pending record replaced by a newer record with the same key`)
)
