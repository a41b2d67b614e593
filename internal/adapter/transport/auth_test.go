package transport

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskbridge/internal/domain"
)

func TestStaticTokenAuth(t *testing.T) {
	auth := NewStaticTokenAuth([]TokenEntry{
		{Name: "main", Token: "alpha"},
		{Name: "popup", Token: "beta"},
	})

	name, err := auth.Authenticate("beta")
	require.NoError(t, err)
	assert.Equal(t, "popup", name)

	_, err = auth.Authenticate("gamma")
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)

	_, err = auth.Authenticate("")
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestRequestToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ipc?token=query", nil)
	assert.Equal(t, "query", requestToken(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", requestToken(r), "header wins over query")

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "query", requestToken(r))
}
