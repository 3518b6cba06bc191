package dfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeXfer is a scripted ControlTransfer: each call to Control consumes
// the next scripted reply, in order, regardless of the request made.
// Good enough to drive MakeIdle and the counter bookkeeping without a
// real bus.
type fakeXfer struct {
	replies [][]byte
	errs    []error
	calls   int
}

func (f *fakeXfer) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	if i < len(f.replies) {
		n := copy(data, f.replies[i])
		return n, nil
	}
	return len(data), nil
}

func statusReply(state State) []byte {
	return []byte{byte(StatusOK), 0, 0, 0, byte(state), 0}
}

func statusReplyWithStatus(status Status, state State) []byte {
	return []byte{byte(status), 0, 0, 0, byte(state), 0}
}

func TestMakeIdleAlreadyIdle(t *testing.T) {
	fx := &fakeXfer{replies: [][]byte{statusReply(StateDfuIdle)}}
	d := &Device{XFER: fx}
	require.NoError(t, MakeIdle(d))
	assert.Equal(t, 1, fx.calls)
}

func TestMakeIdleFromDnloadIdleAborts(t *testing.T) {
	fx := &fakeXfer{replies: [][]byte{
		statusReply(StateDfuDnloadIdle), // GETSTATUS
		nil,                             // ABORT (no reply body)
		statusReply(StateDfuIdle),       // GETSTATUS
	}}
	d := &Device{XFER: fx}
	require.NoError(t, MakeIdle(d))
	assert.Equal(t, 3, fx.calls)
}

func TestMakeIdleFromErrorClears(t *testing.T) {
	fx := &fakeXfer{replies: [][]byte{
		statusReply(StateDfuError),
		nil, // CLRSTATUS
		statusReply(StateDfuIdle),
	}}
	d := &Device{XFER: fx}
	require.NoError(t, MakeIdle(d))
}

func TestMakeIdleIdleWithNonOKStatusClearsAndRetries(t *testing.T) {
	fx := &fakeXfer{replies: [][]byte{
		statusReplyWithStatus(StatusErrVerify, StateDfuIdle), // GETSTATUS
		nil,                                                  // CLRSTATUS
		statusReply(StateDfuIdle),                            // GETSTATUS, now OK
	}}
	d := &Device{XFER: fx}
	require.NoError(t, MakeIdle(d))
	assert.Equal(t, 3, fx.calls)
}

func TestMakeIdleTransportErrorClearsAndRetries(t *testing.T) {
	fx := &fakeXfer{
		errs:    []error{assert.AnError},
		replies: [][]byte{nil, nil, statusReply(StateDfuIdle)},
	}
	d := &Device{XFER: fx}
	require.NoError(t, MakeIdle(d))
}

func TestMakeIdleAbortsFromAllSyncAndBusyStates(t *testing.T) {
	for _, state := range []State{
		StateDfuDnloadSync, StateDfuDnloadIdle, StateDfuManifestSync,
		StateDfuUploadIdle, StateDfuDnbusy, StateDfuManifest,
	} {
		fx := &fakeXfer{replies: [][]byte{
			statusReply(state),        // GETSTATUS
			nil,                       // ABORT
			statusReply(StateDfuIdle), // GETSTATUS
		}}
		d := &Device{XFER: fx}
		require.NoError(t, MakeIdle(d), "state %s", state)
	}
}

func TestMakeIdleGivesUpOnUnrecoverableState(t *testing.T) {
	fx := &fakeXfer{replies: [][]byte{
		statusReply(StateAppIdle),
		statusReply(StateAppIdle),
		statusReply(StateAppIdle),
		statusReply(StateAppIdle),
	}}
	d := &Device{XFER: fx}
	assert.Error(t, MakeIdle(d))
}

func TestDnloadIncrementsCounterByOne(t *testing.T) {
	fx := &fakeXfer{}
	d := &Device{XFER: fx}
	d.ResetCounter(5)
	require.NoError(t, d.Dnload([]byte{1, 2, 3}))
	assert.Equal(t, uint16(6), d.Counter())
}

func TestUploadIncrementsCounterByOne(t *testing.T) {
	fx := &fakeXfer{replies: [][]byte{{1, 2, 3, 4}}}
	d := &Device{XFER: fx}
	d.ResetCounter(0)
	data, err := d.Upload(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Equal(t, uint16(1), d.Counter())
}

func TestTraceFiresOnEveryControlTransfer(t *testing.T) {
	fx := &fakeXfer{replies: [][]byte{{1, 2, 3, 4}}}
	var requests []string
	d := &Device{XFER: fx, Trace: func(request string, val, idx uint16) {
		requests = append(requests, request)
	}}
	d.ResetCounter(3)
	_, err := d.Upload(4)
	require.NoError(t, err)
	assert.Equal(t, []string{"UPLOAD"}, requests)
}

func TestDecodeStatusLittleEndianPollTimeout(t *testing.T) {
	rec, err := decodeStatus([]byte{0x00, 0x01, 0x02, 0x03, byte(StateDfuIdle), 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x030201), rec.PollTimeoutMs)
	assert.Equal(t, StateDfuIdle, rec.State)
}
