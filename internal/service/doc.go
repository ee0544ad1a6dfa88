// Package service wires the download engine, the binary store and the
// lock into the operations the tow CLI exposes.
//
// Every operation loads the registry from disk, works on it and, for
// mutations, saves it again while holding the store directory lock, so two
// tow processes never interleave their load-mutate-save cycles.
// Downloads and verification run before the lock is taken.
package service
