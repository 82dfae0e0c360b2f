package keys

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"

	"github.com/BitcreditProtocol/crsatmint/crypto"
)

// basePurpose/basePath mirror the derivation root observed in the
// original eBill credit-mint source (`m/129372'/129534'/0'/...`):
// 129372' is the Cashu-protocol purpose level, 129534' distinguishes
// this mint's crsat derivation tree, 0' is the mint's single account.
// coinForUnit picks a distinct hardened coin level per side so a crsat
// Factory and a sat Factory sharing one master key never derive the
// same keyset twice.
const (
	basePurpose = 129372
	baseAccount = 0

	crsatCoin = 129534
	satCoin   = 129535
)

func coinForUnit(unit string) uint32 {
	if unit == UnitSat {
		return satCoin
	}
	return crsatCoin
}

// MaxNonHardenedIndex clamps a quote-derived child index into the
// non-hardened range, per spec.md §6's BIP32 derivation constants.
const MaxNonHardenedIndex = 1<<31 - 1

// MasterFromMnemonic derives the mint's seed-derived master extended
// private key from a 12-word BIP39 mnemonic, matching the teacher's own
// hdkeychain.NewMaster(seed, mainnet) convention.
func MasterFromMnemonic(mnemonic string, passphrase string) (*hdkeychain.ExtendedKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
}

// basePath returns m/129372'/<coin>'/0' off the master key — the common
// parent both quote-bound and maturity-bound keysets extend from.
func basePath(master *hdkeychain.ExtendedKey, unit string) (*hdkeychain.ExtendedKey, error) {
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + basePurpose)
	if err != nil {
		return nil, err
	}
	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart + coinForUnit(unit))
	if err != nil {
		return nil, err
	}
	return coin.Derive(hdkeychain.HardenedKeyStart + baseAccount)
}

// quoteChildren splits a 16-byte UUID into four big-endian uint32 words,
// each clamped to the non-hardened range — spec.md §6 verbatim, grounded
// on original_source's extend_path_from_uuid.
func quoteChildren(id uuid.UUID) [4]uint32 {
	var out [4]uint32
	for i := 0; i < 4; i++ {
		word := binary.BigEndian.Uint32(id[i*4 : i*4+4])
		if word > MaxNonHardenedIndex {
			word = MaxNonHardenedIndex
		}
		out[i] = word
	}
	return out
}

// deriveQuotePath extends basePath with the quote's 4-hop non-hardened
// child sequence.
func deriveQuotePath(master *hdkeychain.ExtendedKey, unit string, quoteID uuid.UUID) (*hdkeychain.ExtendedKey, string, error) {
	parent, err := basePath(master, unit)
	if err != nil {
		return nil, "", err
	}

	children := quoteChildren(quoteID)
	path := parent
	for _, c := range children {
		path, err = path.Derive(c)
		if err != nil {
			return nil, "", err
		}
	}

	pathStr := fmt.Sprintf("m/%d'/%d'/%d'/%d/%d/%d/%d",
		basePurpose, coinForUnit(unit), baseAccount, children[0], children[1], children[2], children[3])
	return path, pathStr, nil
}

// deriveMaturityPath extends basePath with hardened
// (days_since_epoch, rotation_index) children.
func deriveMaturityPath(master *hdkeychain.ExtendedKey, unit string, daysSinceEpoch uint32, rotationIndex uint32) (*hdkeychain.ExtendedKey, string, error) {
	parent, err := basePath(master, unit)
	if err != nil {
		return nil, "", err
	}

	datePath, err := parent.Derive(hdkeychain.HardenedKeyStart + daysSinceEpoch)
	if err != nil {
		return nil, "", err
	}
	rotationPath, err := datePath.Derive(hdkeychain.HardenedKeyStart + rotationIndex)
	if err != nil {
		return nil, "", err
	}

	pathStr := fmt.Sprintf("m/%d'/%d'/%d'/%d'/%d'",
		basePurpose, coinForUnit(unit), baseAccount, daysSinceEpoch, rotationIndex)
	return rotationPath, pathStr, nil
}

// daysSinceEpoch converts a unix-seconds timestamp to a whole day count.
func daysSinceEpoch(unixSeconds int64) uint32 {
	return uint32(unixSeconds / 86400)
}

// generateKeyset derives the MaxOrder per-amount key pairs under path and
// computes the resulting keyset id (K1).
func generateKeyset(path *hdkeychain.ExtendedKey) (map[uint64]crypto.KeyPair, KeysetID, error) {
	keys, id, err := crypto.GenerateKeys(path)
	if err != nil {
		return nil, "", err
	}
	return keys, KeysetID(id), nil
}
