package hmacguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorax/gorax/internal/authbroker/errcode"
)

func TestVerifySucceedsWithCorrectSignature(t *testing.T) {
	sig := Compute("tenant-secret", "github-prod", "conn-1")
	err := Verify("tenant-secret", "github-prod", "conn-1", sig)
	assert.Nil(t, err)
}

func TestVerifyFailsWithWrongSecret(t *testing.T) {
	sig := Compute("tenant-secret", "github-prod", "conn-1")
	err := Verify("other-secret", "github-prod", "conn-1", sig)
	require.NotNil(t, err)
	assert.Equal(t, errcode.InvalidHMAC, err.Code)
}

func TestVerifyMissingSignature(t *testing.T) {
	err := Verify("tenant-secret", "github-prod", "conn-1", "")
	require.NotNil(t, err)
	assert.Equal(t, errcode.MissingHMAC, err.Code)
}

func TestVerifyConnectionIDOptional(t *testing.T) {
	sig := Compute("tenant-secret", "github-prod", "")
	err := Verify("tenant-secret", "github-prod", "", sig)
	assert.Nil(t, err)
}

func TestVerifyMalformedSignature(t *testing.T) {
	err := Verify("tenant-secret", "github-prod", "conn-1", "not-hex-!!!")
	require.NotNil(t, err)
	assert.Equal(t, errcode.InvalidHMAC, err.Code)
}
