package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signer builds the per-request bearer token: an HS256 JWT carrying the
// access key, a fresh nonce and, when the request has parameters, the
// SHA512 hash of the unescaped query string.
type signer struct {
	accessKey string
	secretKey []byte
	nonce     func() string
}

func newSigner(accessKey, secretKey string) *signer {
	return &signer{
		accessKey: accessKey,
		secretKey: []byte(secretKey),
		nonce:     uuid.NewString,
	}
}

func (s *signer) token(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": s.accessKey,
		"nonce":      s.nonce(),
	}
	if len(params) > 0 {
		query, err := url.QueryUnescape(params.Encode())
		if err != nil {
			return "", fmt.Errorf("build query hash: %w", err)
		}
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return "Bearer " + signed, nil
}
