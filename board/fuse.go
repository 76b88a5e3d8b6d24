package board

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
)

// The i.MX OCOTP fuse layout for the primary MAC: the low 32 bits live in
// bank 4 word 2, the high 16 bits in bank 4 word 3.
const (
	fuseBank     = 4
	fuseWordLow  = 2
	fuseWordHigh = 3
)

var fuseWordPattern = regexp.MustCompile(`Word 0x[0-9a-fA-F]{8}: ([0-9a-fA-F]{8})`)

// fuseWords splits a canonical hardware address into its fuse register words.
func fuseWords(addr string) (low uint32, high uint32, err error) {
	hw, err := net.ParseMAC(addr)
	if err != nil {
		return 0, 0, fmt.Errorf("fuse encode %q: %w", addr, err)
	}
	if len(hw) != 6 {
		return 0, 0, fmt.Errorf("fuse encode %q: want 48 bits", addr)
	}
	high = uint32(hw[0])<<8 | uint32(hw[1])
	low = uint32(hw[2])<<24 | uint32(hw[3])<<16 | uint32(hw[4])<<8 | uint32(hw[5])
	return low, high, nil
}

// addrFromWords reassembles the canonical hardware address from fuse words.
func addrFromWords(low, high uint32) string {
	hw := net.HardwareAddr{
		byte(high >> 8), byte(high),
		byte(low >> 24), byte(low >> 16), byte(low >> 8), byte(low),
	}
	return hw.String()
}

// parseFuseWord extracts the register value from `fuse read` output, e.g.
//
//	Word 0x00000002: 0c1f5e04
func parseFuseWord(out string) (uint32, error) {
	m := fuseWordPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no fuse word in output %q", out)
	}
	v, err := strconv.ParseUint(m[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse fuse word %q: %w", m[1], err)
	}
	return uint32(v), nil
}
