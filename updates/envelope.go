package updates

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"go.mozilla.org/pkcs7"
)

const (
	maxEnvelopeDepth     = 4
	maxDecompressedBytes = 16 << 20
)

var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

// unwrapEnvelope peels xz compression and PKCS#7 SignedData layers, in any
// order, until a plain document remains. The PKCS#7 signer is not checked
// here; use a ManifestVerifier for that.
func unwrapEnvelope(data []byte) ([]byte, error) {
	for depth := 0; depth <= maxEnvelopeDepth; depth++ {
		switch {
		case bytes.HasPrefix(data, xzMagic):
			decompressed, err := decompressXZ(data)
			if err != nil {
				return nil, err
			}
			data = decompressed
		case looksLikePKCS7(data):
			p7, err := pkcs7.Parse(data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse signed data: %w", err)
			}
			if len(p7.Content) == 0 {
				return nil, fmt.Errorf("signed data carries no content")
			}
			data = p7.Content
		default:
			return data, nil
		}
	}
	return nil, fmt.Errorf("manifest is nested in more than %d envelopes", maxEnvelopeDepth)
}

// looksLikePKCS7 matches a DER SEQUENCE with a long-form length. Text
// documents never start that way; a bare "0." would have a short form.
func looksLikePKCS7(data []byte) bool {
	return len(data) > 2 && data[0] == 0x30 && data[1] > 0x80 && data[1] <= 0x84
}

func decompressXZ(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create xz reader: %w", err)
	}
	decompressed, err := io.ReadAll(io.LimitReader(r, maxDecompressedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress content: %w", err)
	}
	if len(decompressed) > maxDecompressedBytes {
		return nil, fmt.Errorf("decompressed manifest exceeds %d bytes", maxDecompressedBytes)
	}
	return decompressed, nil
}
