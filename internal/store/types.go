package store

import "fmt"

// Store is the registry contract. LocalStore is the only implementation;
// callers depend on the interface so a different backend can be dropped in
// without touching the data model.
type Store interface {
	AddBinary(cmd AddBinaryCmd) error
	RemoveBinary(cmd RemoveBinaryCmd) error
	ListBinaries() []BinaryEntry
}

// EntryKey builds the identity of an installed binary.
func EntryKey(name, version string) string {
	return fmt.Sprintf("%s-%s", name, version)
}

// BinaryEntry is one installed binary.
type BinaryEntry struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Path    string `json:"path" yaml:"path"`     // location inside the binaries dir
	Source  string `json:"source" yaml:"source"` // URL the file was downloaded from
}

// Key returns the entry key.
func (e BinaryEntry) Key() string {
	return EntryKey(e.Name, e.Version)
}

// AddBinaryCmd asks the store to take ownership of the file at Path.
type AddBinaryCmd struct {
	Name    string
	Version string
	Path    string
	Source  string
}

// Key returns the entry key the command would create.
func (c AddBinaryCmd) Key() string {
	return EntryKey(c.Name, c.Version)
}

// RemoveBinaryCmd asks the store to delete an entry and its file.
type RemoveBinaryCmd struct {
	Name    string
	Version string
}

// Key returns the entry key the command targets.
func (c RemoveBinaryCmd) Key() string {
	return EntryKey(c.Name, c.Version)
}
