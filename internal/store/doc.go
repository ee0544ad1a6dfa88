// Package store is tow's registry of installed binaries.
//
// A registry maps an entry key ("<name>-<version>") to the metadata of one
// installed binary. LocalStore persists it as pretty-printed JSON in
// <store dir>/towstore.json and owns the binaries directory that installed
// files are moved into.
//
// # Persistence
//
// Every successful AddBinary or RemoveBinary saves the whole registry. The
// previous registry file is copied to towstore.json.bak first (a single slot,
// overwritten each time), then the new content replaces the registry through
// a temporary file and a rename.
//
// # Failure handling
//
// AddBinary compensates: if the save fails, the new entry is dropped and the
// file it just moved in is deleted. RemoveBinary cannot compensate, since the
// file is already gone, so its failures are reported as they are. A file that
// was deleted outside tow also fails the removal; ForgetBinary drops such an
// entry without touching the filesystem.
//
// # Known limitation
//
// Loading a registry with a different binaries dir updates the directory
// used for new installs. A registry read from a new store dir is saved back
// there, not to the store dir recorded inside it. Entries installed under the old directory keep
// their recorded paths.
package store
