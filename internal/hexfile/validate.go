package hexfile

import (
	"fmt"

	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
)

// erasedValue is what an unprogrammed flash byte reads as.
const erasedValue = 0xFF

// Validate compares a read-back InputImage against the OutputImage that
// was written. Any mismatch inside
// [DataStart, DataEnd] on an assigned byte is a hard failure. Mismatches
// outside that span (against the expected erased value) are counted and
// returned as a positive "soft mismatch" count with a nil error.
func Validate(output *OutputImage, input *InputImage) (softMismatches int, err error) {
	if !output.HasData() {
		return 0, hexerr.New(hexerr.KindValidation, "hexfile.Validate", "no valid data")
	}

	for addr := output.ValidStart; addr <= output.ValidEnd; addr++ {
		if addr >= uint32(len(input.Data)) {
			break
		}
		inByte := input.Data[addr]

		inSpan := addr >= output.DataStart && addr <= output.DataEnd
		if inSpan {
			if want, ok := output.Get(addr); ok {
				if inByte != want {
					return softMismatches, hexerr.New(hexerr.KindValidation, "hexfile.Validate",
						fmt.Sprintf("address 0x%08x: wrote 0x%02x, read 0x%02x", addr, want, inByte))
				}
			}
			continue
		}

		if inByte != erasedValue {
			softMismatches++
		}
	}
	return softMismatches, nil
}
