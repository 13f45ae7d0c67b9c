package document

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Block ids use a short OCR-resistant code of the form XXXX-XXXX-XXX: eight
// payload characters plus a three character checksum, drawn from an alphabet
// with no visually confusable pairs.
const ArmorAlphabet = "34679ACDEFGHJKLMNPQRTUVWXY"

const (
	armorPayloadLen  = 8
	armorChecksumLen = 3
	armorCodeLen     = armorPayloadLen + armorChecksumLen
)

var armorCharIndex = func() map[byte]int {
	m := make(map[byte]int, len(ArmorAlphabet))
	for i := 0; i < len(ArmorAlphabet); i++ {
		m[ArmorAlphabet[i]] = i
	}
	return m
}()

// armorConfusion maps characters to the characters OCR commonly mistakes
// them for. Keys outside the alphabet handle misreads that produced a
// character the alphabet does not contain at all.
var armorConfusion = map[byte][]byte{
	'0': {'O', 'D', 'Q', 'C'},
	'1': {'L', 'T', 'J'},
	'2': {'Z', '7'},
	'5': {'S', '6'},
	'8': {'B', '3', '6', '9'},
	'Z': {'2', '7'},
	'B': {'8', '3', '6', 'E', 'R'},
	'S': {'5', '6'},
	'O': {'0', 'D', 'Q'},
	'I': {'1', 'L', 'T'},
	'3': {'8', '9', 'E'},
	'4': {'A', 'H'},
	'6': {'G', '8', '5'},
	'7': {'T', '2', 'Y'},
	'9': {'P', '8', '6'},
	'A': {'4', 'H', 'R'},
	'D': {'0', 'O', 'Q'},
	'E': {'F', '3', 'B'},
	'F': {'E', 'P'},
	'G': {'6', 'C', 'Q'},
	'H': {'A', '4', 'M', 'N'},
	'K': {'X', 'R'},
	'M': {'N', 'H', 'W'},
	'N': {'M', 'H'},
	'P': {'R', 'F', '9'},
	'Q': {'0', 'O', 'D'},
	'R': {'P', 'K', 'A'},
	'T': {'7', 'Y', '1'},
	'U': {'V', 'W'},
	'V': {'U', 'Y'},
	'W': {'M', 'V'},
	'X': {'K', 'Y'},
	'Y': {'V', 'T', '7'},
}

// GenerateBlockID returns a fresh random block id formatted as
// XXXX-XXXX-XXX. It draws 40 random bits; the eight base-26 payload
// characters keep that value modulo 26^8 (about 37.6 bits), followed by the
// checksum.
func GenerateBlockID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[3:]); err != nil {
		panic(err)
	}
	num := binary.BigEndian.Uint64(buf[:])
	payload := numToArmor(num, armorPayloadLen)
	return formatArmor(payload + armorChecksum(payload))
}

// IsBlockID reports whether s looks like an armor-formatted block id. It does
// not verify the checksum.
func IsBlockID(s string) bool {
	clean := normalizeArmor(s)
	if len(clean) != armorCodeLen {
		return false
	}
	for i := 0; i < len(clean); i++ {
		if _, ok := armorCharIndex[clean[i]]; !ok {
			return false
		}
	}
	return true
}

// ValidBlockID reports whether s is a well-formed block id with a matching
// checksum.
func ValidBlockID(s string) bool {
	return isValidArmor(normalizeArmor(s))
}

// EncodeUUID converts a hex uuid string into armor form from the first 40
// bits of the uuid. The eight base-26 payload characters hold values below
// 26^8, so a prefix at or above that bound is stored modulo 26^8. Ids
// already in armor form are returned normalized.
func EncodeUUID(uuidStr string) (string, error) {
	if IsBlockID(uuidStr) {
		return formatArmor(normalizeArmor(uuidStr)), nil
	}

	clean := strings.ToLower(strings.ReplaceAll(uuidStr, "-", ""))
	if len(clean) < 10 {
		return "", errors.Errorf("id %q is too short to encode", uuidStr)
	}

	var num uint64
	if _, err := fmt.Sscanf(clean[:10], "%010x", &num); err != nil {
		return "", errors.Wrapf(err, "id %q is not hex", uuidStr)
	}

	payload := numToArmor(num, armorPayloadLen)
	return formatArmor(payload + armorChecksum(payload)), nil
}

// DecodeBlockID returns the payload of an armor code as a 10-character hex
// string, or an empty string when the code is malformed. For codes made by
// EncodeUUID this is the uuid's 40-bit prefix modulo 26^8.
func DecodeBlockID(code string) string {
	clean := normalizeArmor(code)
	if !isValidArmor(clean) {
		return ""
	}

	var num uint64
	for i := 0; i < armorPayloadLen; i++ {
		num = num*26 + uint64(armorCharIndex[clean[i]])
	}
	return fmt.Sprintf("%010x", num)
}

// RepairBlockID attempts to recover a code mangled by OCR: up to three
// substituted characters guided by the confusion table, one dropped
// character, or one extra character. It returns the repaired code and
// whether recovery succeeded.
func RepairBlockID(input string) (string, bool) {
	clean := normalizeArmor(input)

	if isValidArmor(clean) {
		return formatArmor(clean), true
	}

	// one character short: try inserting at each position
	if len(clean) == armorCodeLen-1 {
		for pos := 0; pos <= len(clean); pos++ {
			for i := 0; i < len(ArmorAlphabet); i++ {
				candidate := clean[:pos] + string(ArmorAlphabet[i]) + clean[pos:]
				if isValidArmor(candidate) {
					return formatArmor(candidate), true
				}
			}
		}
	}

	// one character long: try dropping each position
	if len(clean) == armorCodeLen+1 {
		for i := 0; i < len(clean); i++ {
			candidate := clean[:i] + clean[i+1:]
			if isValidArmor(candidate) {
				return formatArmor(candidate), true
			}
		}
	}

	if len(clean) != armorCodeLen {
		return "", false
	}

	options := make([][]byte, len(clean))
	for i := 0; i < len(clean); i++ {
		c := clean[i]
		var opts []byte
		if _, ok := armorCharIndex[c]; ok {
			opts = append(opts, c)
		}
		for _, alt := range armorConfusion[c] {
			if _, ok := armorCharIndex[alt]; ok {
				opts = append(opts, alt)
			}
		}
		if len(opts) == 0 {
			opts = []byte(ArmorAlphabet)
		}
		options[i] = dedupeBytes(opts)
	}

	for maxErrors := 1; maxErrors <= 3; maxErrors++ {
		if fixed, ok := repairSubstitutions([]byte(clean), options, 0, maxErrors); ok {
			return formatArmor(fixed), true
		}
	}

	return "", false
}

// repairSubstitutions tries every combination of up to remaining character
// substitutions starting at position from.
func repairSubstitutions(code []byte, options [][]byte, from, remaining int) (string, bool) {
	if remaining == 0 {
		if isValidArmor(string(code)) {
			return string(code), true
		}
		return "", false
	}

	for pos := from; pos < len(code); pos++ {
		original := code[pos]
		for _, alt := range options[pos] {
			if alt == original {
				continue
			}
			code[pos] = alt
			if fixed, ok := repairSubstitutions(code, options, pos+1, remaining-1); ok {
				code[pos] = original
				return fixed, true
			}
		}
		code[pos] = original
	}

	return "", false
}

func armorChecksum(payload string) string {
	var v1, v2, v3 int
	for i := 0; i < len(payload); i++ {
		val := armorCharIndex[payload[i]]
		v1 += val
		v2 += val * (i + 3)
		v3 += val * (i + 7) * (i + 1)
	}
	return string(ArmorAlphabet[v1%26]) + string(ArmorAlphabet[v2%26]) + string(ArmorAlphabet[v3%26])
}

func isValidArmor(code string) bool {
	if len(code) != armorCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		if _, ok := armorCharIndex[code[i]]; !ok {
			return false
		}
	}
	return code[armorPayloadLen:] == armorChecksum(code[:armorPayloadLen])
}

func normalizeArmor(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToUpper(s)
}

func formatArmor(code string) string {
	return code[:4] + "-" + code[4:8] + "-" + code[8:]
}

func numToArmor(num uint64, length int) string {
	if num == 0 {
		return strings.Repeat(string(ArmorAlphabet[0]), length)
	}

	var digits []byte
	for num > 0 {
		digits = append(digits, ArmorAlphabet[num%26])
		num /= 26
	}
	for len(digits) < length {
		digits = append(digits, ArmorAlphabet[0])
	}

	// digits are little-endian; keep the low `length` digits and reverse
	digits = digits[:length]
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

func dedupeBytes(in []byte) []byte {
	seen := make(map[byte]struct{}, len(in))
	out := in[:0]
	for _, b := range in {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}
