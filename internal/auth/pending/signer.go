package pending

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errBadSignature = errors.New("pending: invalid cookie signature")

// signer produces base64url(json) "." base64url(hmac-sha256) tokens.
type signer struct {
	key []byte
}

func (s signer) mac(data []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(data)
	return h.Sum(nil)
}

func (s signer) sign(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("pending: marshal: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(data) + "." +
		base64.RawURLEncoding.EncodeToString(s.mac(data)), nil
}

func (s signer) verify(token string, v any) error {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return errBadSignature
	}

	data, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return errBadSignature
	}
	want, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(want, s.mac(data)) {
		return errBadSignature
	}

	return json.Unmarshal(data, v)
}
