package boot

import "strings"

const (
	// BootImageName is the staged and re-emitted name of the boot image.
	BootImageName = "boot.img"
	// RecoveryImageName is the re-emitted name of the recovery image.
	RecoveryImageName = "recovery.img"
	// VBMetaImageName is the re-emitted name of the verification metadata.
	VBMetaImageName = "vbmeta.img"
	// PatchedImageName is what the patch script writes into the workspace.
	PatchedImageName = "new-boot.img"
	// StockImageName is the placeholder for the backup of the original image.
	StockImageName = "stock_boot.img"
)

// EntryKind classifies an archive member.
type EntryKind uint8

const (
	// Passthrough members are copied unchanged.
	Passthrough EntryKind = iota
	// BootImage members are staged for patching.
	BootImage
	// RecoveryImage members are staged when the recovery policy is on.
	RecoveryImage
	// VerificationMetadata members get their flags rewritten.
	VerificationMetadata
)

// String implements fmt.Stringer.
func (k EntryKind) String() string {
	switch k {
	case BootImage:
		return "boot-image"
	case RecoveryImage:
		return "recovery-image"
	case VerificationMetadata:
		return "verification-metadata"
	default:
		return "passthrough"
	}
}

// Classify returns the kind of the archive member called name.
func Classify(name string, recovery bool) EntryKind {
	switch {
	case strings.HasPrefix(name, BootImageName):
		return BootImage
	case recovery && strings.Contains(name, RecoveryImageName):
		return RecoveryImage
	case strings.Contains(name, VBMetaImageName):
		return VerificationMetadata
	default:
		return Passthrough
	}
}

// Target is the image the patch tool works on.
type Target struct {
	// Path locates the image, either a block device or a staged workspace file.
	Path string
	// Recovery is set when the recovery image replaced the boot image as target.
	Recovery bool
}

// OutputEntryName is the archive member name the patched target is written as.
func (t Target) OutputEntryName() string {
	if t.Recovery {
		return RecoveryImageName
	}

	return BootImageName
}

// SignatureState is the result of probing the target for a legacy signature.
type SignatureState uint8

const (
	// SignatureUnknown means the image was not probed.
	SignatureUnknown SignatureState = iota
	// SignatureUnsigned means the probe found no legacy signature.
	SignatureUnsigned
	// SignatureLegacy means the image carries an AVB 1.0 signature and must be re-signed.
	SignatureLegacy
)

// NeedsResign reports whether the patched image has to be signed again.
func (s SignatureState) NeedsResign() bool {
	return s == SignatureLegacy
}
