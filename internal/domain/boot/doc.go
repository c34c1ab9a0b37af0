// Package boot contains the device-independent model of a boot image
// installation: A/B slots, archive member classification, the patch target,
// signature state and the vbmeta flag rewrite.
package boot
