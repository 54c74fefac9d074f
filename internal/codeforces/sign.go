package codeforces

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
)

// apiSig computes the signature for an authenticated Codeforces API call:
// sha512("{salt}/{method}?{params}#{secret}") prefixed with the salt, where
// params are sorted lexicographically by key and URL-encoded. The sort order
// is a strict requirement of the remote auth scheme; url.Values.Encode
// already emits keys in sorted order.
func apiSig(method string, params url.Values, secret string) (string, error) {
	salt, err := randSalt()
	if err != nil {
		return "", err
	}
	return signWithSalt(salt, method, params, secret), nil
}

// signWithSalt is the deterministic part of apiSig, split out for tests.
func signWithSalt(salt, method string, params url.Values, secret string) string {
	payload := fmt.Sprintf("%s/%s?%s#%s", salt, method, params.Encode(), secret)
	sum := sha512.Sum512([]byte(payload))
	return salt + hex.EncodeToString(sum[:])
}

// randSalt returns a 6-character random hex salt.
func randSalt() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
