// Package freedisk manages the lifecycle of freedisks inside a mounted
// freenetfs.
//
// freenetfs exposes its control surface as pseudo-files:
//
//	<mount>/keys/freedisk_<name>_<micros>   read to generate a key pair
//	<mount>/usr/<name>/                      one directory per disk
//	<mount>/usr/<name>/.publickey            request (public) URI
//	<mount>/usr/<name>/.privatekey           insert (private) URI
//	<mount>/usr/<name>/.passwd               disk password
//	<mount>/usr/<name>/.cmd                  write "update" or "commit"
//	<mount>/usr/<name>/.status               read disk status
//	<mount>/cmds/<base64 command>            read to run a command
//
// Pseudo-files appear asynchronously, so every wait is bounded by the
// controller timeout and fails with ErrMountTimeout when it expires. A disk
// is registered in the config only after all of its pseudo-files have been
// written; a failure halfway leaves the config untouched.
package freedisk
