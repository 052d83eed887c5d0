package updates

import (
	"bytes"
	"crypto/sha512"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// SSHSignatureVerifier checks armored SSH signatures, as produced by
// "ssh-keygen -Y sign -n file", made over the manifest by one of
// AuthorizedKeys. Only sha512 signatures are accepted.
type SSHSignatureVerifier struct {
	// AuthorizedKeys are public keys in authorized_keys format.
	AuthorizedKeys []string
	// Namespace the signature must be made for. Defaults to "file".
	Namespace string
}

const (
	sshSigMagic                = "SSHSIG"
	sshSigPEMType              = "SSH SIGNATURE"
	sshSigHashAlgorithm        = "sha512"
	defaultSignatureNamespace  = "file"
	supportedSSHSigBlobVersion = 1
)

// sshSigBlob is the wire layout following the magic preamble.
type sshSigBlob struct {
	Version       uint32
	PublicKey     []byte
	Namespace     string
	Reserved      string
	HashAlgorithm string
	Signature     []byte
}

// sshSigSignedData is what the signer actually signed, after the magic preamble.
type sshSigSignedData struct {
	Namespace     string
	Reserved      string
	HashAlgorithm string
	Hash          []byte
}

// Verify implements ManifestVerifier.
func (v SSHSignatureVerifier) Verify(data []byte, armored []byte) error {
	blob, sig, err := parseSSHSignature(armored)
	if err != nil {
		return fmt.Errorf("failed to parse SSH signature: %w", err)
	}

	namespace := v.Namespace
	if namespace == "" {
		namespace = defaultSignatureNamespace
	}
	if blob.Namespace != namespace {
		return fmt.Errorf("signature namespace %q does not match %q", blob.Namespace, namespace)
	}
	if blob.HashAlgorithm != sshSigHashAlgorithm {
		return fmt.Errorf("unsupported hash algorithm %s: only %s is accepted", blob.HashAlgorithm, sshSigHashAlgorithm)
	}

	signer, err := ssh.ParsePublicKey(blob.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to parse signer key: %w", err)
	}
	if err := v.authorize(signer); err != nil {
		return err
	}

	hash := sha512.Sum512(data)
	message := append([]byte(sshSigMagic), ssh.Marshal(sshSigSignedData{
		Namespace:     blob.Namespace,
		HashAlgorithm: blob.HashAlgorithm,
		Hash:          hash[:],
	})...)
	if err := signer.Verify(message, sig); err != nil {
		return fmt.Errorf("signature does not match manifest: %w", err)
	}
	return nil
}

func (v SSHSignatureVerifier) authorize(signer ssh.PublicKey) error {
	want := signer.Marshal()
	for i, line := range v.AuthorizedKeys {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return fmt.Errorf("failed to parse authorized key %d: %w", i, err)
		}
		if bytes.Equal(key.Marshal(), want) {
			return nil
		}
	}
	return fmt.Errorf("signer %s is not an authorized key", ssh.FingerprintSHA256(signer))
}

func parseSSHSignature(armored []byte) (*sshSigBlob, *ssh.Signature, error) {
	block, _ := pem.Decode(armored)
	if block == nil || block.Type != sshSigPEMType {
		return nil, nil, fmt.Errorf("invalid SSH signature format: missing %q block", sshSigPEMType)
	}
	if !bytes.HasPrefix(block.Bytes, []byte(sshSigMagic)) {
		return nil, nil, fmt.Errorf("invalid magic bytes")
	}

	var blob sshSigBlob
	if err := ssh.Unmarshal(block.Bytes[len(sshSigMagic):], &blob); err != nil {
		return nil, nil, fmt.Errorf("malformed signature blob: %w", err)
	}
	if blob.Version != supportedSSHSigBlobVersion {
		return nil, nil, fmt.Errorf("unsupported signature version %d", blob.Version)
	}

	var sig ssh.Signature
	if err := ssh.Unmarshal(blob.Signature, &sig); err != nil {
		return nil, nil, fmt.Errorf("malformed signature: %w", err)
	}
	return &blob, &sig, nil
}
