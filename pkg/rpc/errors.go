package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// error codes: https://github.com/anza-xyz/agave/blob/489f483e1d7b30ef114e0123994818b2accfa389/rpc-client-api/src/custom_error.rs#L17
const (
	BlockCleanedUpCode                           = -32001
	SendTransactionPreflightFailureCode          = -32002
	TransactionSignatureVerificationFailureCode  = -32003
	BlockNotAvailableCode                        = -32004
	NodeUnhealthyCode                            = -32005
	TransactionPrecompileVerificationFailureCode = -32006
	SlotSkippedCode                              = -32007
	NoSnapshotCode                               = -32008
	LongTermStorageSlotSkippedCode               = -32009
	KeyExcludedFromSecondaryIndexCode            = -32010
	TransactionHistoryNotAvailableCode           = -32011
	ScanErrorCode                                = -32012
	TransactionSignatureLengthMismatchCode       = -32013
	BlockStatusNotYetAvailableCode               = -32014
	UnsupportedTransactionVersionCode            = -32015
	MinContextSlotNotReachedCode                 = -32016
	EpochRewardsPeriodActiveCode                 = -32017
	SlotNotEpochBoundaryCode                     = -32018
	MethodNotFoundCode                           = -32601
)

// ErrorKind classifies every failure a Client call can produce. Consumers
// branch on the kind, never on error strings.
type ErrorKind int

const (
	// KindUnreachable is a transport-level failure: connection refused, DNS, reset.
	KindUnreachable ErrorKind = iota
	// KindTimeout is a per-call deadline expiry.
	KindTimeout
	// KindRpcError is a structured error returned by the node.
	KindRpcError
	// KindMalformed is a response that did not match the expected schema.
	KindMalformed
	// KindUnavailable is data that legitimately does not exist yet,
	// e.g. inflation rewards for an epoch that has not finalized.
	KindUnavailable
	// KindPruned means the node purged the requested history. It is not a
	// failure of the validator being monitored.
	KindPruned
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindRpcError:
		return "rpc-error"
	case KindMalformed:
		return "malformed"
	case KindUnavailable:
		return "unavailable"
	case KindPruned:
		return "pruned"
	}
	return "unknown"
}

type (
	RPCError struct {
		Method  string `json:"-"`
		Code    int64  `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data,omitempty"`
	}

	// malformedError wraps a decode failure so Classify can tell schema
	// violations apart from transport problems.
	malformedError struct {
		method string
		err    error
	}

	NodeUnhealthyErrorData struct {
		NumSlotsBehind int64 `json:"numSlotsBehind"`
	}
)

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s rpc error (code: %d): %s", e.Method, e.Code, e.Message)
}

func (e *malformedError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.method, e.err)
}

func (e *malformedError) Unwrap() error {
	return e.err
}

// Classify maps any error returned by a Client call onto the ErrorKind
// taxonomy.
func Classify(err error) ErrorKind {
	var (
		rpcErr       *RPCError
		malformedErr *malformedError
		urlErr       *url.Error
		netErr       net.Error
	)
	switch {
	case errors.As(err, &rpcErr):
		switch rpcErr.Code {
		case BlockCleanedUpCode, LongTermStorageSlotSkippedCode:
			return KindPruned
		case EpochRewardsPeriodActiveCode, BlockStatusNotYetAvailableCode:
			return KindUnavailable
		default:
			return KindRpcError
		}
	case errors.As(err, &malformedErr):
		return KindMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.As(err, &urlErr):
		return KindUnreachable
	default:
		return KindUnreachable
	}
}

// IsSlotSkipped reports whether err is the node's explicit slot-skipped
// signal. A skipped slot is an answer, not a failure: the leader built no
// block there.
func IsSlotSkipped(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == SlotSkippedCode
}

// IsPruned reports whether err means the node no longer retains the
// requested slot.
func IsPruned(err error) bool {
	return Classify(err) == KindPruned
}

func UnpackRpcErrorData[T any](rpcErr *RPCError, formatted T) error {
	bytesData, err := json.Marshal(rpcErr.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s rpc-error data: %w", rpcErr.Method, err)
	}
	if err = json.Unmarshal(bytesData, formatted); err != nil {
		return fmt.Errorf("failed to unmarshal %s rpc-error data: %w", rpcErr.Method, err)
	}
	return nil
}
