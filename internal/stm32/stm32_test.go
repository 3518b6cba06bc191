package stm32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfu-programmer/dfu-programmer/internal/dfu"
	"github.com/dfu-programmer/dfu-programmer/internal/hexfile"
)

type scriptedXfer struct {
	replies [][]byte
	i       int
	sent    [][]byte
}

func (s *scriptedXfer) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	if rType == 0x21 && len(data) > 0 {
		sent := make([]byte, len(data))
		copy(sent, data)
		s.sent = append(s.sent, sent)
	}
	if s.i >= len(s.replies) {
		return len(data), nil
	}
	r := s.replies[s.i]
	s.i++
	n := copy(data, r)
	return n, nil
}

func okStatus() []byte { return []byte{0x00, 0, 0, 0, byte(dfu.StateDfuIdle), 0} }

func TestSetAddressPointerEncodesLittleEndian(t *testing.T) {
	fx := &scriptedXfer{replies: [][]byte{okStatus(), okStatus(), okStatus()}}
	d := &dfu.Device{XFER: fx}
	require.NoError(t, SetAddressPointer(d, 0x0800_0000))
	require.Len(t, fx.sent, 1)
	assert.Equal(t, []byte{0x21, 0x00, 0x00, 0x00, 0x08}, fx.sent[0])
	// Reset to 0 for the SET_ADDR_PTR frame, which the DNLOAD then advances.
	assert.Equal(t, uint16(1), d.Counter())
}

func TestMassEraseSendsSingleByteCommand(t *testing.T) {
	fx := &scriptedXfer{replies: [][]byte{okStatus(), okStatus()}}
	d := &dfu.Device{XFER: fx}
	require.NoError(t, MassErase(d))
	require.Len(t, fx.sent, 1)
	assert.Equal(t, []byte{0x41}, fx.sent[0])
}

func TestWriteBlockRejectsOversizeBlock(t *testing.T) {
	d := &dfu.Device{XFER: &scriptedXfer{}}
	err := WriteBlock(d, make([]byte, MaxTransferSize+1))
	assert.Error(t, err)
}

func TestWriteBlockExactSizeDoesNotForceReset(t *testing.T) {
	// Two full MaxTransferSize blocks in one sector: the first is exactly
	// full, so the second follows without a new SET_ADDR_PTR.
	img := hexfile.NewOutputImage(MinSectorBound, 1024)
	for i := uint32(0); i < 2*MaxTransferSize; i++ {
		require.NoError(t, img.Assign(i, byte(i)))
	}
	fx := &scriptedXfer{} // unscripted GETSTATUS replies decode as status OK
	d := &dfu.Device{XFER: fx}
	require.NoError(t, WriteFlash(d, img, nil))
	require.Len(t, fx.sent, 3)
	assert.Equal(t, byte(0x21), fx.sent[0][0])
	assert.Len(t, fx.sent[1], MaxTransferSize)
	assert.Len(t, fx.sent[2], MaxTransferSize)
}

func TestReadBlockDetectsReadProtection(t *testing.T) {
	fx := &scriptedXfer{replies: [][]byte{
		okStatus(),                                                     // pre-check
		{},                                                             // upload returns nothing
		{byte(dfu.StatusErrVendor), 0, 0, 0, byte(dfu.StateDfuError), 0}, // follow-up status
	}}
	d := &dfu.Device{XFER: fx}
	_, err := ReadBlock(d, 16)
	assert.Error(t, err)
}

func TestWriteFlashSingleContiguousRunNoMidStreamReset(t *testing.T) {
	img := hexfile.NewOutputImage(MinSectorBound, 1024)
	for i := uint32(0); i < 100; i++ {
		require.NoError(t, img.Assign(i, byte(i)))
	}
	fx := &scriptedXfer{}
	// SetAddressPointer: 3 GETSTATUS + 1 DNLOAD; one WriteBlock: 1 DNLOAD +
	// 2 GETSTATUS. Transfers past the script decode as status OK.
	for i := 0; i < 6; i++ {
		fx.replies = append(fx.replies, okStatus())
	}
	d := &dfu.Device{XFER: fx}
	var chunks []int
	require.NoError(t, WriteFlash(d, img, func(n int) { chunks = append(chunks, n) }))
	// Exactly one SET_ADDR_PTR frame (no reset mid-run) followed by one data
	// frame. PrepareForWrite fills the rest of the 1024-byte page with 0xFF,
	// so that frame carries the whole page.
	require.Len(t, fx.sent, 2)
	assert.Equal(t, byte(0x21), fx.sent[0][0])
	assert.Equal(t, []int{1024}, chunks)
}
