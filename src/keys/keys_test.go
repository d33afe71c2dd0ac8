package keys

import (
	"os"
	"path"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	decoded, err := DecodeKey(EncodeKey(key))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if decoded.D.Cmp(key.D) != 0 {
		t.Fatalf("scalars do not match")
	}
	if decoded.PublicKey.X.Cmp(key.PublicKey.X) != 0 ||
		decoded.PublicKey.Y.Cmp(key.PublicKey.Y) != 0 {
		t.Fatalf("public keys do not match")
	}
}

func TestDecodeRejectsBadScalars(t *testing.T) {
	bad := []string{
		"",
		"zz",
		"0abc",
		strings.Repeat("00", 32),
		"fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141",
	}
	for _, s := range bad {
		if _, err := DecodeKey(s); err == nil {
			t.Fatalf("DecodeKey(%q) should fail", s)
		}
	}
}

func TestEndpointID(t *testing.T) {
	key, _ := GenerateKey()

	id := EndpointID(&key.PublicKey)
	if id == 0 {
		t.Fatalf("endpoint id should not be zero")
	}
	if id != EndpointID(&key.PublicKey) {
		t.Fatalf("endpoint id is not stable")
	}

	other, _ := GenerateKey()
	if EndpointID(&other.PublicKey) == id {
		t.Fatalf("distinct keys mapped to the same endpoint id")
	}
}

func TestKeyfile(t *testing.T) {
	dir := t.TempDir()

	keyfile := NewKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := keyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	// Initialize a key and try a write
	key, _ = GenerateKey()

	if err := keyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get key
	nKey, err := keyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if nKey.D.Cmp(key.D) != 0 {
		t.Fatalf("keys do not match")
	}
}

func TestKeyfilePermissions(t *testing.T) {
	dir := t.TempDir()

	key, _ := GenerateKey()
	rawKey := EncodeKey(key)

	badKeyPath := path.Join(dir, "priv_key_bad")

	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}
	for _, fm := range shouldErr {
		os.WriteFile(badKeyPath, []byte(rawKey), fm)
		os.Chmod(badKeyPath, fm)

		badKeyFile := NewKeyfile(badKeyPath)
		if _, err := badKeyFile.ReadKey(); err == nil {
			t.Fatalf("%o || badKeyFile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "priv_key_good")

	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}
	for _, fm := range shouldNotErr {
		os.WriteFile(goodKeyPath, []byte(rawKey), fm)
		os.Chmod(goodKeyPath, fm)

		goodKeyFile := NewKeyfile(goodKeyPath)
		if _, err := goodKeyFile.ReadKey(); err != nil {
			t.Fatalf("%o || goodKeyFile should not return error. Got %v", fm, err)
		}
		os.Remove(goodKeyPath)
	}
}
