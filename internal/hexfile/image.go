// Package hexfile implements the sparse byte image used to hold a parsed
// Intel HEX firmware image and the dense read-back buffer it is validated
// against.
package hexfile

import (
	"fmt"
	"math"

	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
)

// Unassigned is the sentinel stored in OutputImage.cells for bytes the
// image does not program. Any value outside 0..255 means "unassigned";
// -1 is used throughout this package.
const Unassigned = -1

// NoData is the sentinel value of DataStart/DataEnd meaning "this image
// has no assigned bytes at all".
const NoData = math.MaxUint32

// OutputImage is the sparse, write-side image: one element per
// addressable byte, wide enough (int32) that 0..255 unambiguously means
// "assigned" and anything else means "unassigned".
type OutputImage struct {
	TotalSize uint32
	PageSize  uint32
	cells     []int32

	ValidStart, ValidEnd uint32
	DataStart, DataEnd   uint32
	BlockStart, BlockEnd uint32
}

// NewOutputImage allocates an image of totalSize bytes, all unassigned,
// addressable over [0, totalSize).
func NewOutputImage(totalSize, pageSize uint32) *OutputImage {
	cells := make([]int32, totalSize)
	for i := range cells {
		cells[i] = Unassigned
	}
	return &OutputImage{
		TotalSize:  totalSize,
		PageSize:   pageSize,
		cells:      cells,
		ValidStart: 0,
		ValidEnd:   totalSize - 1,
		DataStart:  NoData,
		DataEnd:    NoData,
	}
}

// Assign marks addr as programmed with value b, expanding DataStart/DataEnd.
func (img *OutputImage) Assign(addr uint32, b byte) error {
	if addr >= img.TotalSize {
		return hexerr.New(hexerr.KindHexParse, "hexfile.Assign",
			fmt.Sprintf("address 0x%08x exceeds image size 0x%08x", addr, img.TotalSize))
	}
	img.cells[addr] = int32(b)
	if img.DataStart == NoData || addr < img.DataStart {
		img.DataStart = addr
	}
	if img.DataEnd == NoData || addr > img.DataEnd {
		img.DataEnd = addr
	}
	return nil
}

// IsAssigned reports whether addr holds a programmed byte.
func (img *OutputImage) IsAssigned(addr uint32) bool {
	if addr >= img.TotalSize {
		return false
	}
	return img.cells[addr] >= 0 && img.cells[addr] <= 255
}

// Get returns the byte at addr and whether it is assigned.
func (img *OutputImage) Get(addr uint32) (byte, bool) {
	if !img.IsAssigned(addr) {
		return 0, false
	}
	return byte(img.cells[addr]), true
}

// HasData reports whether any byte has been assigned.
func (img *OutputImage) HasData() bool {
	return img.DataStart != NoData
}

// PageOf returns the page-aligned bounds [start, end] containing addr.
func (img *OutputImage) PageOf(addr uint32) (start, end uint32) {
	start = (addr / img.PageSize) * img.PageSize
	end = start + img.PageSize - 1
	if end >= img.TotalSize {
		end = img.TotalSize - 1
	}
	return
}

// PageHasAssigned reports whether any byte within the page starting at
// pageStart (of length PageSize) is assigned.
func (img *OutputImage) PageHasAssigned(pageStart uint32) bool {
	end := pageStart + img.PageSize
	if end > img.TotalSize {
		end = img.TotalSize
	}
	for a := pageStart; a < end; a++ {
		if img.IsAssigned(a) {
			return true
		}
	}
	return false
}

// PrepareForWrite flash-preps the image: every page
// containing at least one assigned byte gets its remaining unassigned
// bytes filled with 0xFF, so every touched page becomes a contiguous
// writable unit. Pages with no assigned byte are left untouched.
func (img *OutputImage) PrepareForWrite() error {
	for pageStart := uint32(0); pageStart < img.TotalSize; pageStart += img.PageSize {
		if !img.PageHasAssigned(pageStart) {
			continue
		}
		pageEnd := pageStart + img.PageSize
		if pageEnd > img.TotalSize {
			pageEnd = img.TotalSize
		}
		for a := pageStart; a < pageEnd; a++ {
			if !img.IsAssigned(a) {
				if err := img.Assign(a, 0xFF); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Bytes returns a dense copy of [start,end] inclusive, substituting the
// erased-flash value 0xFF for any address left unassigned (e.g. a gap
// between pages PrepareForWrite did not touch). Used by protocols that
// transmit a contiguous span in one shot rather than walking page by
// page.
func (img *OutputImage) Bytes(start, end uint32) []byte {
	out := make([]byte, end-start+1)
	for i := range out {
		if b, ok := img.Get(start + uint32(i)); ok {
			out[i] = b
		} else {
			out[i] = 0xFF
		}
	}
	return out
}

// InputImage is the dense byte buffer read back from flash, used for
// validation against an OutputImage.
type InputImage struct {
	Data []byte
}

// NewInputImage allocates a read-back buffer of the given size.
func NewInputImage(size uint32) *InputImage {
	return &InputImage{Data: make([]byte, size)}
}
