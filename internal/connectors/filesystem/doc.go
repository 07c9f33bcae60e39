// Package filesystem implements a connector for a local directory tree.
//
// The connector reports which files under a root are eligible for indexing
// and, while watching, which of them were created, modified or removed.
// Hidden files and anything under a hidden directory are ignored.
//
// fsnotify watches are not recursive, so every visible subdirectory is
// watched individually and directories created while watching are added.
// Events are coalesced per path for a debounce interval, so an editor that
// writes a file in several steps produces one change.
package filesystem
