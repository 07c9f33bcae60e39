// Package file stores settings as config.toml in the configuration directory.
//
// Unknown keys are rejected on load so a typo never silently falls back to a
// default. Saves replace the file atomically with mode 0600, since it may
// hold an API key.
package file
