// Package installer runs boot image installations.
//
// An Installer composes the steps of an operation: resolving the target on
// the device, provisioning the workspace, rewriting a firmware archive or
// copying a raw image, running the patch script, re-signing, and committing
// the result to a destination or the device. Each operation is a fixed
// sequence of states; the first failing step moves it to StateFailed, the
// workspace is removed and exactly one error is returned.
//
// Only one operation runs at a time. Execute rejects a concurrent call
// immediately with ErrSessionActive.
package installer
