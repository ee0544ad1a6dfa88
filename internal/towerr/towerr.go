// Package towerr defines the single error type returned by the download
// engine and the binary store.
//
// Every failure carries a Kind so callers can branch on the category without
// matching message text:
//
//	if towerr.Is(err, towerr.NotFound) {
//	    // nothing to uninstall
//	}
//
// Kinds also satisfy errors.Is directly, so errors.Is(err, towerr.NotFound)
// works through any amount of fmt.Errorf wrapping.
package towerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Unknown is never produced by this module; it is the zero value.
	Unknown Kind = iota
	// NotADirectory means a destination path is missing or not a directory.
	NotADirectory
	// Network covers transport failures and non-2xx HTTP responses.
	Network
	// HeaderMissing means the response had no Content-Disposition header.
	HeaderMissing
	// FilenameUnparsable means no usable filename= token was found.
	FilenameUnparsable
	// URLParse means the source URL could not be parsed.
	URLParse
	// AlreadyExists means an entry key (or its target file) is already taken.
	AlreadyExists
	// NotFound means no entry exists for the requested key.
	NotFound
	// IO covers filesystem failures.
	IO
	// Serialization covers registry encode/decode failures.
	Serialization
	// Verification means a checksum or signature did not match.
	Verification
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	NotADirectory:      "not a directory",
	Network:            "network error",
	HeaderMissing:      "header missing",
	FilenameUnparsable: "filename unparsable",
	URLParse:           "url parse error",
	AlreadyExists:      "already exists",
	NotFound:           "not found",
	IO:                 "io error",
	Serialization:      "serialization error",
	Verification:       "verification failed",
}

// String returns the human readable name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is a categorized failure. Subject names the thing the failure is
// about (a path, an entry key, a URL, a header value) and Err is the
// underlying cause, if any.
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

// New creates an Error without an underlying cause.
func New(kind Kind, subject string) *Error {
	return &Error{Kind: kind, Subject: subject}
}

// Wrap creates an Error around cause. A nil cause yields nil.
func Wrap(kind Kind, subject string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Subject: subject, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Subject != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Subject)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
