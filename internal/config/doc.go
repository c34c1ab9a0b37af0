// Package config defines installer settings and provides helpers to load,
// validate and save them in YAML format.
//
// Validate fills defaults for everything except the data directory, so a
// minimal file naming data_dir is enough to run the installer. The CLI layers
// flags and BOOT_INSTALLER_* environment variables over the file.
package config
