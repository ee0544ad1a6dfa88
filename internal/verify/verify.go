// Package verify checks a downloaded file before it is handed to the store.
//
// Two checks are available, both optional from the user's point of view: a
// SHA256 digest given on the command line, and an OpenPGP detached signature
// checked against a keyring file.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/ZebulonRouseFrantzich/tow/internal/towerr"
)

// SHA256 checks that the file at path has the expected hex digest.
// Comparison is case-insensitive.
func SHA256(path, expected string) error {
	actual, err := FileSHA256(path)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return towerr.New(towerr.Verification,
			fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", path, expected, actual))
	}
	return nil
}

// FileSHA256 returns the hex encoded SHA256 digest of a file.
func FileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", towerr.Wrap(towerr.IO, path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", towerr.Wrap(towerr.IO, path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Signature verifies a detached OpenPGP signature over the file at path.
// Armored and binary signatures and keyrings are both accepted.
func Signature(path, signaturePath, keyringPath string) error {
	keyring, err := loadKeyring(keyringPath)
	if err != nil {
		return err
	}

	binaryFile, err := os.Open(path)
	if err != nil {
		return towerr.Wrap(towerr.IO, path, err)
	}
	defer binaryFile.Close()

	sigFile, err := os.Open(signaturePath)
	if err != nil {
		return towerr.Wrap(towerr.IO, signaturePath, err)
	}
	defer sigFile.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, binaryFile, sigFile, nil)
	if err != nil {
		if _, seekErr := binaryFile.Seek(0, io.SeekStart); seekErr != nil {
			return towerr.Wrap(towerr.IO, path, seekErr)
		}
		if _, seekErr := sigFile.Seek(0, io.SeekStart); seekErr != nil {
			return towerr.Wrap(towerr.IO, signaturePath, seekErr)
		}
		_, err = openpgp.CheckDetachedSignature(keyring, binaryFile, sigFile, nil)
	}
	if err != nil {
		return towerr.Wrap(towerr.Verification, "signature of "+path, err)
	}

	return nil
}

func loadKeyring(keyringPath string) (openpgp.EntityList, error) {
	keyringFile, err := os.Open(keyringPath)
	if err != nil {
		return nil, towerr.Wrap(towerr.IO, keyringPath, err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		if _, seekErr := keyringFile.Seek(0, io.SeekStart); seekErr != nil {
			return nil, towerr.Wrap(towerr.IO, keyringPath, seekErr)
		}
		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return nil, towerr.Wrap(towerr.Verification, "read keyring "+keyringPath, err)
		}
	}

	if len(keyring) == 0 {
		return nil, towerr.New(towerr.Verification, "keyring is empty: "+keyringPath)
	}

	return keyring, nil
}
