package hexfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
)

// UserPageBase is the address the AVR32 "user page" auxiliary memory
// region is mapped at.
const UserPageBase = 0x0080_0000

// ParseOptions bounds the two images a HEX stream can address.
type ParseOptions struct {
	TotalSize uint32 // main flash image size
	PageSize  uint32 // main flash page size
	UserSize  uint32 // 0 disables the user-page window entirely
	UserPage  uint32 // user page granularity, only used if UserSize > 0
}

// Parse reads an Intel HEX stream and returns the main image and, if
// UserSize > 0, the user-page image.
func Parse(r io.Reader, opts ParseOptions) (main, user *OutputImage, err error) {
	main = NewOutputImage(opts.TotalSize, opts.PageSize)
	if opts.UserSize > 0 {
		up := opts.UserPage
		if up == 0 {
			up = opts.UserSize
		}
		user = NewOutputImage(opts.UserSize, up)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var base uint32
	sawEOF := false

	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] != ':' {
			return nil, nil, hexerr.New(hexerr.KindHexParse, "hexfile.Parse", "line missing ':' prefix")
		}
		rec, perr := parseLine(line[1:])
		if perr != nil {
			return nil, nil, perr
		}

		switch rec.Type {
		case RecData:
			for i, b := range rec.Data {
				addr := base + uint32(rec.Address) + uint32(i)
				if err := assignByte(main, user, opts, addr, b); err != nil {
					return nil, nil, err
				}
			}
		case RecEOF:
			if rec.Count != 0 {
				return nil, nil, hexerr.New(hexerr.KindHexParse, "hexfile.Parse", "EOF record with nonzero count")
			}
			sawEOF = true
		case RecExtSegmentAddress:
			if rec.Count != 2 {
				return nil, nil, hexerr.New(hexerr.KindHexParse, "hexfile.Parse", "extended segment address record must have count 2")
			}
			if rec.Data[1]&0xF8 != 0 {
				return nil, nil, hexerr.New(hexerr.KindHexParse, "hexfile.Parse", "extended segment address high bits set")
			}
			base = (uint32(rec.Data[0])<<8 | uint32(rec.Data[1])) * 16
		case RecStartSegment, RecStartLinear:
			// Accepted, ignored.
		case RecExtLinearAddress:
			if rec.Count != 2 {
				return nil, nil, hexerr.New(hexerr.KindHexParse, "hexfile.Parse", "extended linear address record must have count 2")
			}
			base = (uint32(rec.Data[0])<<8 | uint32(rec.Data[1])) << 16
		default:
			return nil, nil, hexerr.New(hexerr.KindHexParse, "hexfile.Parse", fmt.Sprintf("unrecognized record type %d", rec.Type))
		}

		if sawEOF {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, hexerr.WrapDetail(hexerr.KindHexParse, "hexfile.Parse", "reading input", err)
	}
	return main, user, nil
}

func assignByte(main, user *OutputImage, opts ParseOptions, addr uint32, b byte) error {
	if opts.UserSize > 0 && addr >= UserPageBase && addr < UserPageBase+opts.UserSize {
		return user.Assign(addr-UserPageBase, b)
	}
	if addr < opts.TotalSize {
		return main.Assign(addr, b)
	}
	return hexerr.New(hexerr.KindHexParse, "hexfile.Parse", fmt.Sprintf("address 0x%08x error", addr))
}
