package hexerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindArgument, 1},
		{KindDeviceAccess, 2},
		{KindProtocol, 3},
		{KindReadProtected, 3},
		{KindFlash, 4},
		{KindHexParse, 4},
		{KindValidation, 4},
	}
	for _, c := range cases {
		err := New(c.kind, "op", "detail")
		assert.Equal(t, c.want, ExitCode(err), "kind %s", c.kind)
	}
	assert.Equal(t, 0, ExitCode(nil))
}

func TestWrapPreservesUnwrapChain(t *testing.T) {
	cause := fmt.Errorf("usb timeout")
	wrapped := Wrap(KindDeviceAccess, "usbsession.Open", cause)
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, KindDeviceAccess, KindOf(wrapped))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindFlash, "op", nil))
}

func TestKindOfNonHexerrIsZero(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}
