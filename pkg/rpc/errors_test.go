package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "pruned block",
			err:  &RPCError{Method: "getBlock", Code: BlockCleanedUpCode, Message: "Block cleaned up."},
			want: KindPruned,
		},
		{
			name: "long term storage skip",
			err:  &RPCError{Method: "getBlock", Code: LongTermStorageSlotSkippedCode},
			want: KindPruned,
		},
		{
			name: "rewards period active",
			err:  &RPCError{Method: "getInflationReward", Code: EpochRewardsPeriodActiveCode},
			want: KindUnavailable,
		},
		{
			name: "generic rpc error",
			err:  &RPCError{Method: "getHealth", Code: NodeUnhealthyCode},
			want: KindRpcError,
		},
		{
			name: "wrapped rpc error",
			err:  fmt.Errorf("cycle failed: %w", &RPCError{Method: "getSlot", Code: MethodNotFoundCode}),
			want: KindRpcError,
		},
		{
			name: "malformed response",
			err:  &malformedError{method: "getEpochInfo", err: errors.New("unexpected end of JSON input")},
			want: KindMalformed,
		},
		{
			name: "deadline exceeded",
			err:  fmt.Errorf("getSlot rpc call failed: %w", context.DeadlineExceeded),
			want: KindTimeout,
		},
		{
			name: "connection refused",
			err:  &url.Error{Op: "Post", URL: "http://localhost:8899", Err: errors.New("connection refused")},
			want: KindUnreachable,
		},
		{
			name: "unknown error",
			err:  errors.New("something else"),
			want: KindUnreachable,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, Classify(test.err))
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "pruned", KindPruned.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}

func TestIsSlotSkipped(t *testing.T) {
	skipErr := &RPCError{Method: "getBlock", Code: SlotSkippedCode, Message: "Slot 5 was skipped"}
	assert.True(t, IsSlotSkipped(skipErr))
	assert.True(t, IsSlotSkipped(fmt.Errorf("wrapped: %w", skipErr)))
	assert.False(t, IsSlotSkipped(&RPCError{Code: BlockCleanedUpCode}))
	assert.False(t, IsSlotSkipped(errors.New("skipped")))
}

func TestUnpackRpcErrorData(t *testing.T) {
	rpcErr := &RPCError{
		Method:  "getHealth",
		Code:    NodeUnhealthyCode,
		Message: "Node is unhealthy",
		Data:    map[string]any{"numSlotsBehind": 175},
	}

	var data NodeUnhealthyErrorData
	assert.NoError(t, UnpackRpcErrorData(rpcErr, &data))
	assert.Equal(t, int64(175), data.NumSlotsBehind)
}
