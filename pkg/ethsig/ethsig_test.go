package ethsig

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func signPersonal(t *testing.T, message string, keyHex string) (addr string, sig []byte) {
	t.Helper()

	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)

	sig, err = crypto.Sign(PersonalHash(message), key)
	require.NoError(t, err)

	return crypto.PubkeyToAddress(key.PublicKey).Hex(), sig
}

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestRecoverAddress(t *testing.T) {
	t.Parallel()

	message := "hawkerhall wants you to sign in\nnonce: abc123"

	t.Run("round trips a personal_sign signature", func(t *testing.T) {
		addr, sig := signPersonal(t, message, testKeyHex)

		recovered, err := RecoverAddress(message, "0x"+hex.EncodeToString(sig))
		require.NoError(t, err)
		require.Equal(t, addr, recovered.Hex())
	})

	t.Run("accepts legacy v of 27/28", func(t *testing.T) {
		addr, sig := signPersonal(t, message, testKeyHex)
		sig[64] += 27

		recovered, err := RecoverAddress(message, hex.EncodeToString(sig))
		require.NoError(t, err)
		require.Equal(t, addr, recovered.Hex())
	})

	t.Run("different message recovers a different address", func(t *testing.T) {
		addr, sig := signPersonal(t, message, testKeyHex)

		recovered, err := RecoverAddress("some other message", hex.EncodeToString(sig))
		require.NoError(t, err)
		require.NotEqual(t, addr, recovered.Hex())
	})

	t.Run("rejects truncated signatures", func(t *testing.T) {
		_, sig := signPersonal(t, message, testKeyHex)

		_, err := RecoverAddress(message, hex.EncodeToString(sig[:40]))
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("rejects non-hex input", func(t *testing.T) {
		_, err := RecoverAddress(message, "not a signature")
		require.ErrorIs(t, err, ErrBadSignature)
	})
}

func TestAddressesEqual(t *testing.T) {
	t.Parallel()

	addr := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

	require.True(t, AddressesEqual(addr, addr))
	require.True(t, AddressesEqual(addr, "0x8ba1f109551bd432803012645ac136ddd64dba72"))
	require.False(t, AddressesEqual(addr, "0x0000000000000000000000000000000000000001"))
	require.False(t, AddressesEqual(addr, "nonsense"))
}

