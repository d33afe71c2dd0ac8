package keys

import (
	"crypto/ecdsa"
	"fmt"
	"os"
)

// Keyfile persists an endpoint's identity key as a hex scalar in a file
// readable only by its owner.
type Keyfile struct {
	path string
}

// NewKeyfile ...
func NewKeyfile(path string) *Keyfile {
	return &Keyfile{path: path}
}

// checkPermissions rejects key files that group or others can touch.
func (f *Keyfile) checkPermissions() error {
	info, err := os.Stat(f.path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("keyfile %s is accessible to group or others (%o)",
			f.path, perm)
	}
	return nil
}

// ReadKey loads and validates the key stored in the file.
func (f *Keyfile) ReadKey() (*ecdsa.PrivateKey, error) {
	if err := f.checkPermissions(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	return DecodeKey(string(raw))
}

// WriteKey stores the key with owner-only permissions.
func (f *Keyfile) WriteKey(key *ecdsa.PrivateKey) error {
	return os.WriteFile(f.path, []byte(EncodeKey(key)), 0600)
}
