package hexfile

import (
	"fmt"
	"io"
)

// MaxRecordBytes bounds how many data bytes a single emitted type-0 record
// carries. The original tool emits 16 or 32 byte records; 32 is used here.
const MaxRecordBytes = 32

// Serialize writes img back out as Intel HEX,
// used by the `dump`/round-trip path. Pages that are entirely unassigned
// are skipped unless forceFull is set, in which case they are emitted as
// 0xFF-filled runs.
func Serialize(w io.Writer, img *OutputImage, forceFull bool) error {
	var lastLinearBase uint32 = 0xFFFFFFFF // force an initial ELA record

	for pageStart := uint32(0); pageStart < img.TotalSize; pageStart += img.PageSize {
		pageEnd := pageStart + img.PageSize
		if pageEnd > img.TotalSize {
			pageEnd = img.TotalSize
		}
		if !img.PageHasAssigned(pageStart) {
			if !forceFull {
				continue
			}
			if err := emitRun(w, img, pageStart, pageEnd, &lastLinearBase, true); err != nil {
				return err
			}
			continue
		}
		if err := emitRun(w, img, pageStart, pageEnd, &lastLinearBase, false); err != nil {
			return err
		}
	}

	return writeRecord(w, Record{Type: RecEOF})
}

// emitRun walks [start,end) emitting contiguous assigned runs as type-0
// records, chunked to MaxRecordBytes, issuing a type-4 extended linear
// address record whenever the 64 KiB window changes. When synthesize is
// true every byte in the range is treated as assigned with value 0xFF
// (used for force_full empty-page emission).
func emitRun(w io.Writer, img *OutputImage, start, end uint32, lastLinearBase *uint32, synthesize bool) error {
	addr := start
	for addr < end {
		var ok bool
		if synthesize {
			ok = true
		} else {
			_, ok = img.Get(addr)
		}
		if !ok {
			addr++
			continue
		}

		runStart := addr
		buf := make([]byte, 0, MaxRecordBytes)
		for addr < end && len(buf) < MaxRecordBytes {
			var v byte
			var assigned bool
			if synthesize {
				v, assigned = 0xFF, true
			} else {
				v, assigned = img.Get(addr)
			}
			if !assigned {
				break
			}
			// Stop the record at a 64 KiB boundary so the linear-address
			// record always precedes the data it applies to.
			if len(buf) > 0 && addr%0x10000 == 0 {
				break
			}
			buf = append(buf, v)
			addr++
		}

		linearBase := (runStart >> 16) << 16
		if linearBase != *lastLinearBase {
			if err := writeRecord(w, Record{
				Count: 2,
				Type:  RecExtLinearAddress,
				Data:  []byte{byte(linearBase >> 24), byte(linearBase >> 16)},
			}); err != nil {
				return err
			}
			*lastLinearBase = linearBase
		}
		if err := writeRecord(w, Record{
			Count:   uint8(len(buf)),
			Type:    RecData,
			Address: uint16(runStart & 0xFFFF),
			Data:    buf,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeRecord(w io.Writer, rec Record) error {
	rec.Checksum = rec.checksum()
	line := fmt.Sprintf(":%02X%04X%02X", rec.Count, rec.Address, rec.Type)
	for _, b := range rec.Data {
		line += fmt.Sprintf("%02X", b)
	}
	line += fmt.Sprintf("%02X\n", rec.Checksum)
	_, err := io.WriteString(w, line)
	return err
}
