package installer

import "errors"

var (
	// ErrSessionActive is returned when another installation holds the session.
	ErrSessionActive = errors.New("an installation is already running")
	// ErrTargetNotFound is returned when the device reports no boot image.
	ErrTargetNotFound = errors.New("target image not found")
	// ErrExtraction is returned when the workspace cannot be provisioned or relocated.
	ErrExtraction = errors.New("unable to extract files")
	// ErrInvalidInput is returned when the supplied file cannot be sniffed.
	ErrInvalidInput = errors.New("invalid input file")
	// ErrNoBootImage is returned when a firmware archive holds no boot image.
	ErrNoBootImage = errors.New("no boot image found")
	// ErrProcess is returned when reading the input or staging images fails.
	ErrProcess = errors.New("process error")
	// ErrPatchFailed is returned when the patch script exits with a non-zero status.
	ErrPatchFailed = errors.New("patch failed")
	// ErrSignatureCheck is returned when the signature probe cannot read the image.
	ErrSignatureCheck = errors.New("unable to check signature")
	// ErrSigning is returned when re-signing the patched image fails.
	ErrSigning = errors.New("unable to sign image")
	// ErrOutput is returned when the result cannot be written to its destination.
	ErrOutput = errors.New("unable to write output")
	// ErrDownload is returned when the bootctl helper cannot be fetched.
	ErrDownload = errors.New("unable to download bootctl")
	// ErrCommandFailed is returned when a helper command exits with a non-zero status.
	ErrCommandFailed = errors.New("command failed")
	// ErrUnknownOperation is returned for operations the installer does not know.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrNoInput is returned when a patch-file request carries no input.
	ErrNoInput = errors.New("input file is required")
)
