package tarantool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tt "github.com/tarantool/go-tarantool/v2"

	rtesting "github.com/reprisedb/go-reprise/internal/testing"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/replication/tarantool"
)

func TestReplicate(t *testing.T) {
	t.Parallel()

	doer := rtesting.NewMockDoer(t, rtesting.NewMockResponse(t, true))
	peer := tarantool.New("tnt-1", doer)

	require.NoError(t, peer.Replicate(context.Background(), 7, []byte{0x94}, []byte{0xab}))

	require.Len(t, doer.Requests, 1)

	call, ok := doer.Requests[0].(*tt.CallRequest)
	require.True(t, ok)
	assert.NotNil(t, call)
	assert.Equal(t, "tnt-1", peer.Name())
}

func TestReplicate_negative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response any
		err      error
	}{
		{"transport error", errors.New("connection reset"), nil},
		{"rejected", rtesting.NewMockResponse(t, false, "chain mismatch"), tarantool.ErrRejected},
		{"rejected without message", rtesting.NewMockResponse(t, false), tarantool.ErrRejected},
		{"not a boolean", rtesting.NewMockResponse(t, "ok"), tarantool.ErrUnexpectedResponse},
		{"empty", rtesting.NewMockResponse(t), tarantool.ErrUnexpectedResponse},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			peer := tarantool.New("tnt", rtesting.NewMockDoer(t, tc.response))

			err := peer.Replicate(context.Background(), 1, []byte{0x94}, []byte{0x01})
			require.Error(t, err)

			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestTruncateAfter(t *testing.T) {
	t.Parallel()

	doer := rtesting.NewMockDoer(t, rtesting.NewMockResponse(t, true))
	peer := tarantool.New("tnt", doer, tarantool.WithFunctions("", "app.truncate"))

	require.NoError(t, peer.TruncateAfter(context.Background(), 3, journal.Truncation{After: 3, Epoch: 2, Principal: "admin"}))
	assert.Equal(t, 0, doer.Remaining())
}
