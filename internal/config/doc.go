// Package config provides the freedisk configuration file.
//
// The file is a TOML document holding the FCP node settings, the freenetfs
// mountpoint and an ordered list of disks:
//
//	fcpHost = "127.0.0.1"
//	fcpPort = 9481
//	fcpVerbosity = 3
//	mountpoint = "/home/user/freedisk"
//	mountCommand = "freenetfs"
//	mountTimeout = "30s"
//
//	[[disk]]
//	name = "alice"
//	uri = "SSK@..."
//	privUri = "SSK@..."
//	passwd = ""
//
// When the store has a password the document is sealed with
// crypto.Seal (PBKDF2 + AES-256-GCM) instead of being written in clear text.
package config
