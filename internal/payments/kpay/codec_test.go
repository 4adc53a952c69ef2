package kpay

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
)

const testResourceKey = "0123456789abcdef0123456789abcdef"

func TestNewCodecRequires32ByteKey(t *testing.T) {
	t.Parallel()

	_, err := NewCodec("too-short")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeGatewayConfig, typed.Code())

	_, err = NewCodec(testResourceKey)
	require.NoError(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(testResourceKey)
	require.NoError(t, err)

	plaintext := []byte(`{"result":"CAPTURED","amt":"9.000","trackid":"123"}`)
	sealed, err := codec.Encrypt(plaintext)
	require.NoError(t, err)

	opened, err := codec.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	// Fresh nonce per seal: same plaintext, different ciphertext.
	sealed2, err := codec.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, sealed, sealed2)
}

func TestCodecFailsClosed(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(testResourceKey)
	require.NoError(t, err)
	sealed, err := codec.Encrypt([]byte(`{"result":"CAPTURED"}`))
	require.NoError(t, err)

	cases := map[string]string{
		"not hex":        "zz" + sealed[2:],
		"truncated":      sealed[:8],
		"empty":          "",
		"flipped byte":   flipLastByte(sealed),
		"dropped suffix": sealed[:len(sealed)-2],
	}
	for name, input := range cases {
		_, err := codec.Decrypt(input)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed, "%s: expected typed error", name)
		require.Equal(t, pkgerrors.CodeDecryption, typed.Code(), name)
		require.True(t, pkgerrors.IsIndeterminate(err), name)
	}
}

func TestCodecRejectsForeignKey(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(testResourceKey)
	require.NoError(t, err)
	other, err := NewCodec("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)

	sealed, err := codec.Encrypt([]byte("payload"))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeDecryption, typed.Code())
}

func flipLastByte(encoded string) string {
	raw, _ := hex.DecodeString(encoded)
	raw[len(raw)-1] ^= 0xff
	return hex.EncodeToString(raw)
}
