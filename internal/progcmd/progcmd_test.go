package progcmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfu-programmer/dfu-programmer/internal/dfu"
	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
	"github.com/dfu-programmer/dfu-programmer/internal/target"
	"github.com/dfu-programmer/dfu-programmer/internal/usbsession"
)

// scriptedXfer replays a fixed sequence of replies regardless of which
// request was made; good enough to drive the Atmel erase+blank-check
// sequence runErase issues.
type scriptedXfer struct {
	replies [][]byte
	calls   int
}

func (s *scriptedXfer) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	i := s.calls
	s.calls++
	if i < len(s.replies) {
		return copy(data, s.replies[i]), nil
	}
	return len(data), nil
}

func okStatus() []byte { return []byte{0x00, 0, 0, 0, byte(dfu.StateDfuIdle), 0} }

func TestRunUnknownTargetIsArgumentError(t *testing.T) {
	_, err := Run(Request{Target: "no-such-chip", Command: "erase"})
	require.Error(t, err)
	assert.Equal(t, hexerr.KindArgument, hexerr.KindOf(err))
}

func TestRunGetRejectsSTM32(t *testing.T) {
	_, err := runGet(nil, target.Target{Class: target.ClassSTM32}, Request{GetField: "BSB"})
	assert.Error(t, err)
}

func TestRunGetBootloaderVersionFormatsLabelHexAndDecimal(t *testing.T) {
	// atmel.ReadConfig reads twelve selectors, each DNLOAD + GETSTATUS +
	// UPLOAD(1); the first selector is bootloaderVersion, value 0x91 (145).
	var fx scriptedXfer
	fx.replies = append(fx.replies, nil, okStatus(), []byte{0x91})
	for i := 0; i < 11; i++ {
		fx.replies = append(fx.replies, nil, okStatus(), []byte{0x00})
	}
	sess := &usbsession.Session{Device: &dfu.Device{XFER: &fx}}

	result, err := runGet(sess, target.Target{Class: target.ClassAVR}, Request{GetField: "bootloader-version"})
	require.NoError(t, err)
	assert.Equal(t, "Bootloader Version: 0x91 (145)", result.Text)
}

func TestRunConfigureRejectsSTM32(t *testing.T) {
	err := runConfigure(nil, target.Target{Class: target.ClassSTM32}, Request{ConfigProperty: "BSB"})
	assert.Error(t, err)
}

func TestRunConfigureRejectsUnknownProperty(t *testing.T) {
	err := runConfigure(nil, target.Target{Class: target.ClassAVR}, Request{ConfigProperty: "NOPE"})
	assert.Error(t, err)
}

func TestRunFlashRejectsEmptyImage(t *testing.T) {
	tgt := target.Target{Class: target.ClassAVR, MemorySize: 256, FlashPageSize: 64}
	err := runFlash(nil, tgt, Request{InputFile: strings.NewReader(":00000001FF\n")})
	assert.Error(t, err)
}

func TestRunEraseFollowsWithBlankCheck(t *testing.T) {
	fx := &scriptedXfer{replies: [][]byte{
		nil, okStatus(), // erase: DNLOAD, GETSTATUS
		nil, okStatus(), // blank check: DNLOAD, GETSTATUS
	}}
	sess := &usbsession.Session{Device: &dfu.Device{XFER: fx}}
	tgt := target.Target{Class: target.ClassAVR, MemorySize: 0x4000}

	result, err := runErase(sess, tgt, Request{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Text)
	assert.Equal(t, 4, fx.calls)
}

func TestRunEraseSuppressValidationSkipsBlankCheck(t *testing.T) {
	fx := &scriptedXfer{replies: [][]byte{nil, okStatus()}}
	sess := &usbsession.Session{Device: &dfu.Device{XFER: fx}}
	tgt := target.Target{Class: target.ClassAVR, MemorySize: 0x4000}

	result, err := runErase(sess, tgt, Request{SuppressValidation: true})
	require.NoError(t, err)
	assert.Empty(t, result.Text)
	assert.Equal(t, 2, fx.calls)
}
