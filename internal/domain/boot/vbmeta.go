package boot

import "encoding/binary"

const (
	// VBMetaMinSize is the smallest payload holding a full vbmeta header.
	VBMetaMinSize = 256
	// VBMetaFlagsOffset is the offset of the big-endian flags word in the header.
	VBMetaFlagsOffset = 120

	// FlagHashtreeDisabled turns off dm-verity for hashtree descriptors.
	FlagHashtreeDisabled uint32 = 1 << 0
	// FlagVerificationDisabled turns off descriptor verification.
	FlagVerificationDisabled uint32 = 1 << 1

	// VBMetaDisabledFlags disables both integrity checks.
	VBMetaDisabledFlags = FlagHashtreeDisabled | FlagVerificationDisabled
)

// PatchVBMeta disables verification in a vbmeta payload in place.
// Payloads shorter than VBMetaMinSize are left alone and false is returned.
func PatchVBMeta(payload []byte) bool {
	if len(payload) < VBMetaMinSize {
		return false
	}

	binary.BigEndian.PutUint32(payload[VBMetaFlagsOffset:], VBMetaDisabledFlags)

	return true
}

// VBMetaFlags reads the flags word, or returns false for short payloads.
func VBMetaFlags(payload []byte) (uint32, bool) {
	if len(payload) < VBMetaMinSize {
		return 0, false
	}

	return binary.BigEndian.Uint32(payload[VBMetaFlagsOffset:]), true
}
