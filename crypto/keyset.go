package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxOrder bounds the powers of two a keyset signs for: amounts
// 1 .. 2^(MaxOrder-1).
const MaxOrder = 20

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// GenerateKeys derives MaxOrder hardened per-amount children under
// keysetPath (path m/.../amountIndex') and returns the key map plus the
// keyset id computed from the resulting public keys (K1).
func GenerateKeys(keysetPath *hdkeychain.ExtendedKey) (map[uint64]KeyPair, string, error) {
	keys := make(map[uint64]KeyPair, MaxOrder)
	pks := make(PublicKeys, MaxOrder)

	for i := 0; i < MaxOrder; i++ {
		amount := uint64(math.Pow(2, float64(i)))
		amountPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, "", fmt.Errorf("deriving amount index %d: %w", i, err)
		}

		privKey, err := amountPath.ECPrivKey()
		if err != nil {
			return nil, "", err
		}
		pubKey, err := amountPath.ECPubKey()
		if err != nil {
			return nil, "", err
		}

		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: pubKey}
		pks[amount] = pubKey
	}

	return keys, DeriveKeysetId(pks), nil
}

type PublicKeys map[uint64]*secp256k1.PublicKey

// MarshalJSON emits keys sorted ascending by amount, matching NUT-01's
// canonical key list ordering.
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, 0, len(pks))
	for k := range pks {
		amounts = append(amounts, k)
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(amount)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.Write(key)
		buf.WriteByte('"')
		buf.WriteByte(':')

		pubkey := hex.EncodeToString(pks[amount].SerializeCompressed())
		val, err := json.Marshal(pubkey)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks PublicKeys) UnmarshalJSON(data []byte) error {
	var tempKeys map[uint64]string
	if err := json.Unmarshal(data, &tempKeys); err != nil {
		return err
	}

	for amount, key := range tempKeys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		publicKey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key: %v", err)
		}
		pks[amount] = publicKey
	}
	return nil
}

// DeriveKeysetId returns the 8-byte (16 hex char) keyset id: a 1-byte
// version tag ("00") followed by the first 14 hex chars of
// sha256(sorted-ascending concatenation of compressed public keys).
func DeriveKeysetId(keyset PublicKeys) string {
	type pubkey struct {
		amount uint64
		pk     *secp256k1.PublicKey
	}
	pubkeys := make([]pubkey, 0, len(keyset))
	for amount, key := range keyset {
		pubkeys = append(pubkeys, pubkey{amount, key})
	}
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].amount < pubkeys[j].amount
	})

	keys := make([]byte, 0, len(pubkeys)*33)
	for _, key := range pubkeys {
		keys = append(keys, key.pk.SerializeCompressed()...)
	}
	hash := sha256.Sum256(keys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

type keyPairTemp struct {
	PrivateKey []byte `json:"private_key"`
	PublicKey  []byte `json:"public_key"`
}

func (kp *KeyPair) MarshalJSON() ([]byte, error) {
	var privKey []byte
	if kp.PrivateKey != nil {
		privKey = append(privKey, kp.PrivateKey.Serialize()...)
	}
	res := keyPairTemp{
		PrivateKey: privKey,
		PublicKey:  kp.PublicKey.SerializeCompressed(),
	}
	return json.Marshal(res)
}

func (kp *KeyPair) UnmarshalJSON(data []byte) error {
	aux := &keyPairTemp{}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.PrivateKey) > 0 {
		kp.PrivateKey = secp256k1.PrivKeyFromBytes(aux.PrivateKey)
	}

	var err error
	kp.PublicKey, err = secp256k1.ParsePubKey(aux.PublicKey)
	if err != nil {
		return err
	}
	return nil
}
