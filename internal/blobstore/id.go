package blobstore

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	blobIDPrefix   = "bl"
	idHashLength   = 12
	idMaxAttempts  = 20
)

// GenerateID returns a new blob id (bl-xxxxxxxxxxxx).
// It retries on collisions using the provided exists function.
func GenerateID(exists func(string) (bool, error)) (string, error) {
	for i := 0; i < idMaxAttempts; i++ {
		hash, err := randomBase36(idHashLength)
		if err != nil {
			return "", err
		}
		id := fmt.Sprintf("%s-%s", blobIDPrefix, hash)
		if exists == nil {
			return id, nil
		}
		ok, err := exists(id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
	}

	return "", fmt.Errorf("unable to generate unique blob id")
}

// ValidID reports whether id has the shape produced by GenerateID.
func ValidID(id string) bool {
	rest, ok := strings.CutPrefix(id, blobIDPrefix+"-")
	if !ok || len(rest) != idHashLength {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune(base36Alphabet, r) {
			return false
		}
	}
	return true
}

func randomBase36(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	return string(out), nil
}
