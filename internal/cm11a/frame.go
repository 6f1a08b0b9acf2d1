package cm11a

import (
	"fmt"
	"time"

	"x10-go-home/internal/x10"
)

// Host interface protocol bytes.
const (
	headerAddress  byte = 0x04
	headerFunction byte = 0x06

	ackOK        byte = 0x00 // host: checksum accepted
	ready        byte = 0x55 // interface: transmission done
	pollRequest  byte = 0x5A // interface: data waiting
	pollAck      byte = 0xC3 // host: send the data
	clockRequest byte = 0xA5 // interface: power fail, needs time
	clockSet     byte = 0x9B // host: set clock header

	// maxUpload is the largest upload buffer: mask plus eight data bytes.
	maxUpload = 9
)

// frame is one host-initiated transmission and the checksum the interface
// is expected to echo back for it.
type frame struct {
	data     []byte
	checksum byte
}

func (f frame) String() string { return fmt.Sprintf("% X", f.data) }

func sum(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}

// addressFrame selects one unit for the following function.
func addressFrame(a x10.Address) frame {
	d := []byte{headerAddress, a.Byte()}
	return frame{data: d, checksum: sum(d)}
}

// functionFrame issues fn to house with dims in 0..22 for dim and bright.
func functionFrame(house x10.HouseCode, fn x10.Function, dims int) frame {
	if dims < 0 {
		dims = 0
	}
	if dims > x10.MaxDimSteps {
		dims = x10.MaxDimSteps
	}
	d := []byte{headerFunction | byte(dims)<<3, house.Code()<<4 | byte(fn)}
	return frame{data: d, checksum: sum(d)}
}

// commandFrames builds the address frames followed by one function frame per
// house code touched.
func commandFrames(addrs []x10.Address, fn x10.Function, dims int) ([]frame, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("cm11a: %s: no addresses", fn)
	}
	var frames []frame
	var houses []x10.HouseCode
	for _, a := range addrs {
		if !a.Valid() {
			return nil, fmt.Errorf("cm11a: %s: %w", a, x10.ErrInvalidAddress)
		}
		frames = append(frames, addressFrame(a))
		seen := false
		for _, h := range houses {
			if h == a.House {
				seen = true
				break
			}
		}
		if !seen {
			houses = append(houses, a.House)
		}
	}
	for _, h := range houses {
		frames = append(frames, functionFrame(h, fn, dims))
	}
	return frames, nil
}

// clockFrame answers a power-fail clock request. The checksum excludes the
// 0x9B header.
func clockFrame(now time.Time, monitored x10.HouseCode) frame {
	yday := now.YearDay() - 1
	d := []byte{
		clockSet,
		byte(now.Second()),
		byte(now.Minute() + 60*(now.Hour()%2)),
		byte(now.Hour() / 2),
		byte(yday & 0xFF),
		byte(yday>>8)<<7 | 1<<uint(now.Weekday()),
		monitored.Code() << 4,
	}
	return frame{data: d, checksum: sum(d[1:])}
}

// uploadDecoder turns interface uploads into unit status values. Addresses
// are buffered until a function for the same house arrives, which may be in
// a later upload.
type uploadDecoder struct {
	pending []x10.Address
}

// decode parses the mask and data bytes of one upload. A set mask bit marks
// a function byte; dim and bright functions are followed by a level byte.
func (d *uploadDecoder) decode(mask byte, data []byte) []x10.UnitStatus {
	var out []x10.UnitStatus
	for i := 0; i < len(data); i++ {
		b := data[i]
		if mask&(1<<uint(i)) == 0 {
			d.pending = append(d.pending, x10.AddressFromByte(b))
			continue
		}
		house, _ := x10.HouseFromCode(b >> 4)
		st := x10.UnitStatus{House: house, Function: x10.Function(b & 0x0F)}
		if (st.Function == x10.FuncDim || st.Function == x10.FuncBright) && i+1 < len(data) {
			i++
			st.Level = int(data[i])
		}
		for _, a := range d.pending {
			if a.House == house {
				st.Addresses = append(st.Addresses, a)
			}
		}
		d.pending = d.pending[:0]
		out = append(out, st)
	}
	return out
}
