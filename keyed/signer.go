package keyed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// signs put envelopes with a shared secret so a relay can reject writes
// from peers that do not hold it. the token binds the path and a digest of
// the document delta.

type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) *Signer {
	return &Signer{
		secret: secret,
	}
}

type putClaims struct {
	Path    string `json:"path"`
	DocHash string `json:"doc_hash"`
	gojwt.RegisteredClaims
}

func (self *Signer) Sign(path string, doc Doc) (string, error) {
	docHash, err := hashDoc(doc)
	if err != nil {
		return "", err
	}
	claims := &putClaims{
		Path:    path,
		DocHash: docHash,
		RegisteredClaims: gojwt.RegisteredClaims{
			IssuedAt: gojwt.NewNumericDate(time.Now()),
		},
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(self.secret)
}

func (self *Signer) Verify(tokenStr string, path string, doc Doc) error {
	claims := &putClaims{}
	_, err := gojwt.ParseWithClaims(
		tokenStr,
		claims,
		func(token *gojwt.Token) (any, error) {
			if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return self.secret, nil
		},
	)
	if err != nil {
		return err
	}
	if claims.Path != path {
		return fmt.Errorf("token path mismatch: %s != %s", claims.Path, path)
	}
	docHash, err := hashDoc(doc)
	if err != nil {
		return err
	}
	if claims.DocHash != docHash {
		return fmt.Errorf("token doc hash mismatch")
	}
	return nil
}

// `json.Marshal` sorts map keys, so the digest is stable across peers
func hashDoc(doc Doc) (string, error) {
	docJson, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(docJson)
	return hex.EncodeToString(sum[:]), nil
}
