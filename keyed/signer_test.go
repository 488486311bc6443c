package keyed

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))

	doc := Doc{
		"status":  "active",
		"players": Doc{"u1": true},
	}
	token, err := signer.Sign("games/g1", doc)
	assert.Equal(t, nil, err)
	assert.NotEqual(t, "", token)

	assert.Equal(t, nil, signer.Verify(token, "games/g1", doc))
}

func TestSignerRejectsTamperedDoc(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))

	doc := Doc{"status": "active"}
	token, err := signer.Sign("games/g1", doc)
	assert.Equal(t, nil, err)

	tampered := Doc{"status": "completed"}
	assert.NotEqual(t, nil, signer.Verify(token, "games/g1", tampered))
}

func TestSignerRejectsWrongPath(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))

	doc := Doc{"status": "active"}
	token, err := signer.Sign("games/g1", doc)
	assert.Equal(t, nil, err)

	assert.NotEqual(t, nil, signer.Verify(token, "games/g2", doc))
}

func TestSignerRejectsWrongSecret(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))
	other := NewSigner([]byte("other-secret"))

	doc := Doc{"status": "active"}
	token, err := signer.Sign("games/g1", doc)
	assert.Equal(t, nil, err)

	assert.NotEqual(t, nil, other.Verify(token, "games/g1", doc))
}
