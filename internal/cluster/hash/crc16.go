// Package hash maps keys to cluster hash slots.
package hash

import "github.com/10yihang/clusterrouter/pkg/bytes"

const (
	// SlotCount is the fixed size of the slot space.
	SlotCount = 16384
	// MaxSlot is the highest valid slot.
	MaxSlot = SlotCount - 1
)

// crc16tab is the CRC16/XMODEM table (poly 0x1021, init 0, no reflection).
var crc16tab [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crc16tab[i] = crc
	}
}

// CRC16 returns the CRC16/XMODEM checksum of data.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^b]
	}
	return crc
}

func crc16String(s string) uint16 {
	var crc uint16
	for i := 0; i < len(s); i++ {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^s[i]]
	}
	return crc
}

// HashTag returns the part of key that is hashed: the substring between the
// first '{' and the first '}' after it, unless that substring is empty or
// unterminated, in which case the whole key.
func HashTag(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] != '{' {
			continue
		}
		for j := i + 1; j < len(key); j++ {
			if key[j] == '}' {
				if j == i+1 {
					return key
				}
				return key[i+1 : j]
			}
		}
		return key
	}
	return key
}

// KeySlot returns the hash slot of key.
func KeySlot(key string) uint16 {
	return crc16String(HashTag(key)) & MaxSlot
}

// KeySlotBytes is KeySlot for a []byte key, without copying it.
func KeySlotBytes(key []byte) uint16 {
	return KeySlot(bytes.BytesToString(key))
}
