package autoscaler

import (
	"errors"
	"fmt"
)

// Sentinel kinds for the autoscaler error taxonomy. Callers branch on
// kind with errors.Is rather than string-matching.
var (
	// ErrConfig wraps a fatal construction-time misconfiguration:
	// min_replicas < 0, max < min, or a spot autoscaler built without
	// a placer, spot zones, or a target QPS per replica.
	ErrConfig = errors.New("autoscaler: config error")

	// ErrInvalidReplicaStatus wraps a replica status outside the known
	// enum. Never fatal: the offending replica is treated as
	// non-alive, non-FAILED and logged.
	ErrInvalidReplicaStatus = errors.New("autoscaler: invalid replica status")

	// ErrEmptyZoneSet wraps a placer Select call made with no
	// configured zones. Fails the tick; the controller retries next
	// tick.
	ErrEmptyZoneSet = errors.New("autoscaler: empty zone set")
)

type classifiedError struct {
	kind error
	msg  string
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.kind }

func configErrorf(format string, args ...any) error {
	return &classifiedError{kind: ErrConfig, msg: fmt.Sprintf(format, args...)}
}

func invalidReplicaStatusErrorf(format string, args ...any) error {
	return &classifiedError{kind: ErrInvalidReplicaStatus, msg: fmt.Sprintf(format, args...)}
}

func emptyZoneSetErrorf(format string, args ...any) error {
	return &classifiedError{kind: ErrEmptyZoneSet, msg: fmt.Sprintf(format, args...)}
}
