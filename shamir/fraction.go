package shamir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/keyfort/keyfort/fault"
)

const (
	minBits = 3
	maxBits = 20
)

// Share is one decoded fraction key.
type Share struct {
	// Bits is the field bit width, 3..20. It bounds the share id space.
	Bits int
	// ID is the share's x coordinate, 1..2^Bits-1.
	ID int
	// Threshold is the number of shares required to reconstruct.
	Threshold int
	// Values are the field elements of the sealed secret block.
	Values []int
}

// Encode renders the share in the fraction-key text format:
// one base-36 bit-width digit, the share id in hex, then the payload in hex.
// Element hex width is derived from the bit width.
func (s Share) Encode() string {
	w := elemHexWidth(s.Bits)
	var b strings.Builder
	b.Grow(1 + w*(len(s.Values)+2))
	b.WriteString(strconv.FormatInt(int64(s.Bits), 36))
	fmt.Fprintf(&b, "%0*x", w, s.ID)
	fmt.Fprintf(&b, "%0*x", w, s.Threshold)
	for _, v := range s.Values {
		fmt.Fprintf(&b, "%0*x", w, v)
	}
	return b.String()
}

// DecodeShare parses the fraction-key text format. Any malformed share is
// rejected here, before it can reach reconstruction.
func DecodeShare(text string) (Share, error) {
	if len(text) < 2 {
		return Share{}, fmt.Errorf("%w: fraction key too short", fault.ErrFormat)
	}

	bits64, err := strconv.ParseInt(strings.ToLower(text[:1]), 36, 0)
	if err != nil {
		return Share{}, fmt.Errorf("%w: invalid bit-width character %q", fault.ErrFormat, text[0])
	}
	bits := int(bits64)
	if bits < minBits || bits > maxBits {
		return Share{}, fmt.Errorf("%w: bit width %d outside [%d,%d]", fault.ErrFormat, bits, minBits, maxBits)
	}

	w := elemHexWidth(bits)
	rest := text[1:]
	if len(rest) < 2*w || (len(rest)-w)%w != 0 {
		return Share{}, fmt.Errorf("%w: fraction key payload is not element-aligned", fault.ErrFormat)
	}

	id, err := parseElem(rest[:w], bits)
	if err != nil {
		return Share{}, err
	}
	if id == 0 {
		return Share{}, fmt.Errorf("%w: share id must not be zero", fault.ErrFormat)
	}

	threshold, err := parseElem(rest[w:2*w], bits)
	if err != nil {
		return Share{}, err
	}
	if threshold < 2 {
		return Share{}, fmt.Errorf("%w: share threshold %d is invalid", fault.ErrFormat, threshold)
	}

	body := rest[2*w:]
	if len(body) == 0 {
		return Share{}, fmt.Errorf("%w: fraction key has no payload", fault.ErrFormat)
	}
	values := make([]int, len(body)/w)
	for i := range values {
		v, err := parseElem(body[i*w:(i+1)*w], bits)
		if err != nil {
			return Share{}, err
		}
		values[i] = v
	}

	return Share{Bits: bits, ID: id, Threshold: threshold, Values: values}, nil
}

// elemHexWidth is the number of hex digits needed for one field element,
// which is also the share id width.
func elemHexWidth(bits int) int {
	return (bits + 3) / 4
}

func parseElem(s string, bits int) (int, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid hex element %q", fault.ErrFormat, s)
	}
	if v >= uint64(1)<<bits {
		return 0, fmt.Errorf("%w: element %#x exceeds the %d-bit field", fault.ErrFormat, v, bits)
	}
	return int(v), nil
}
