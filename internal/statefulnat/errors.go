// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statefulnat

import (
	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/packet"
)

// Kind enumerates this stage's failure modes.
type Kind int

const (
	KindBadIpHeader Kind = iota
	KindBadTransportHeader
	KindTupleParseError
	KindNoAllocator
	KindAllocationFailure
	KindInvalidIpVersion
	KindNotUnicast
	KindInvalidPort
	KindNoSession
	KindIcmpErrorMsg
	KindUnexpectedKeyVariant
)

// Error is the stage's domain error type.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, err: gwerrors.Errorf(gwerrors.KindValidation, format, args...)}
}

func wrapAllocErr(err error) error {
	return &Error{Kind: KindAllocationFailure, err: err}
}

// ToDoneReason maps a stage error to the packet.DoneReason it should
// retire with propagation policy.
func ToDoneReason(err error) packet.DoneReason {
	var e *Error
	if !gwerrors.As(err, &e) {
		return packet.DoneInternalFailure
	}
	switch e.Kind {
	case KindBadIpHeader:
		return packet.DoneNotIp
	case KindBadTransportHeader, KindTupleParseError, KindUnexpectedKeyVariant:
		return packet.DoneUnsupportedTransport
	case KindIcmpErrorMsg:
		return packet.DoneFiltered
	default:
		return packet.DoneNatFailure
	}
}
