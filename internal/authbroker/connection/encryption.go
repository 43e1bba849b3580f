package connection

import (
	"context"
	"fmt"

	"github.com/gorax/gorax/internal/credential"
)

// Sealer is the envelope-encryption contract
// (credential.EncryptionServiceInterface), reused unmodified: either
// credential.NewSimpleEncryptionAdapter (local master key) or
// credential.NewKMSEncryptionAdapter (AWS KMS-backed DEKs) satisfies
// it, selected by AuthBroker.UseKMS at wiring time.
type Sealer = credential.EncryptionServiceInterface

// sealedBlob is the at-rest representation of an encrypted
// Credentials value, shaped to match the envelope-encryption columns
// in internal/credential/domain.go.
type sealedBlob struct {
	EncryptedDEK []byte
	Ciphertext   []byte
	Nonce        []byte
	AuthTag      []byte
	KMSKeyID     string
}

// seal encrypts a Credentials union for storage, for the given tenant
// (environment) scope.
func seal(ctx context.Context, sealer Sealer, environmentID string, creds *Credentials) (*sealedBlob, error) {
	m, err := creds.ToMap()
	if err != nil {
		return nil, fmt.Errorf("encoding credentials: %w", err)
	}

	secret, err := sealer.Encrypt(ctx, environmentID, &credential.CredentialData{Value: m})
	if err != nil {
		return nil, fmt.Errorf("encrypting credentials: %w", err)
	}

	return &sealedBlob{
		EncryptedDEK: secret.EncryptedDEK,
		Ciphertext:   secret.Ciphertext,
		Nonce:        secret.Nonce,
		AuthTag:      secret.AuthTag,
		KMSKeyID:     secret.KMSKeyID,
	}, nil
}

// unseal decrypts a stored blob back into a Credentials union. The
// adapters expect encryptedData as nonce||ciphertext||authTag and
// encryptedKey as the raw encrypted DEK (credential/*_adapter.go).
func unseal(ctx context.Context, sealer Sealer, blob *sealedBlob) (*Credentials, error) {
	encryptedData := make([]byte, 0, len(blob.Nonce)+len(blob.Ciphertext)+len(blob.AuthTag))
	encryptedData = append(encryptedData, blob.Nonce...)
	encryptedData = append(encryptedData, blob.Ciphertext...)
	encryptedData = append(encryptedData, blob.AuthTag...)

	data, err := sealer.Decrypt(ctx, encryptedData, blob.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("decrypting credentials: %w", err)
	}

	return FromMap(data.Value)
}
