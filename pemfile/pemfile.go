// Package pemfile manages the SSH host key of the console server.
package pemfile

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/zond/juiceworker"

	gossh "golang.org/x/crypto/ssh"
)

const defaultBits = 4096

type KeyParams struct {
	KeyPath       string
	SSHPubKeyPath string
	// Bits defaults to 4096.
	Bits int
}

// Generate writes a new RSA key pair: the private key as PEM and the
// public key in authorized_keys format.
func (k KeyParams) Generate() error {
	bits := k.Bits
	if bits == 0 {
		bits = defaultBits
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return juiceworker.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(k.KeyPath), 0700); err != nil {
		return juiceworker.WithStack(err)
	}
	if err := os.WriteFile(k.KeyPath, pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
		}),
		0600,
	); err != nil {
		return juiceworker.WithStack(err)
	}

	pub, err := gossh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return juiceworker.WithStack(err)
	}
	if k.SSHPubKeyPath != "" {
		if err := os.WriteFile(k.SSHPubKeyPath, gossh.MarshalAuthorizedKey(pub), 0600); err != nil {
			return juiceworker.WithStack(err)
		}
	}
	return nil
}

// Ensure returns the PEM bytes of the private key, generating the pair if
// the key file is missing.
func (k KeyParams) Ensure() (pemBytes []byte, generated bool, err error) {
	if _, err := os.Stat(k.KeyPath); os.IsNotExist(err) {
		if err := k.Generate(); err != nil {
			return nil, false, err
		}
		generated = true
	} else if err != nil {
		return nil, false, juiceworker.WithStack(err)
	}
	pemBytes, err = os.ReadFile(k.KeyPath)
	if err != nil {
		return nil, false, juiceworker.WithStack(err)
	}
	return pemBytes, generated, nil
}

// Signer parses the private key at KeyPath.
func (k KeyParams) Signer() (gossh.Signer, error) {
	pemBytes, err := os.ReadFile(k.KeyPath)
	if err != nil {
		return nil, juiceworker.WithStack(err)
	}
	signer, err := gossh.ParsePrivateKey(pemBytes)
	return signer, juiceworker.WithStack(err)
}
