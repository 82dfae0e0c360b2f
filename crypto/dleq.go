package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// GenerateDLEQ produces a NUT-12 discrete-log-equality proof (e, s) that the
// mint signed B_ with the private key k belonging to public key A = kG,
// without revealing k. It is the signing-side counterpart of VerifyDLEQ below,
// which cashu/nuts/nut12 calls to check proofs.
//
//	r  <-$ Z_p
//	R1 = rG
//	R2 = rB_
//	e  = hash(R1 || R2 || A || C_)
//	s  = r + e*k
func GenerateDLEQ(k *secp256k1.PrivateKey, B_ *secp256k1.PublicKey) (e *secp256k1.PrivateKey, s *secp256k1.PrivateKey, err error) {
	A := k.PubKey()
	C_ := SignBlindedMessage(B_, k)

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	var bpoint, r2point secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	secp256k1.ScalarMultNonConst(&r.Key, &bpoint, &r2point)
	r2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2point.X, &r2point.Y)

	R1 := r.PubKey()

	e = hashToScalar(R1, R2, A, C_)

	// s = r + e*k
	var ek secp256k1.ModNScalar
	ek.Mul2(&e.Key, &k.Key)
	var sScalar secp256k1.ModNScalar
	sScalar.Set(&r.Key).Add(&ek)
	s = secp256k1.NewPrivateKey(&sScalar)

	return e, s, nil
}

// VerifyDLEQ checks a NUT-12 proof (e, s) against mint pubkey A and the
// blinded point / blinded signature pair (B_, C_):
//
//	R1 = sG - eA
//	R2 = sB_ - eC_
//	e' = hash(R1 || R2 || A || C_)
//	accept iff e' == e
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	var sG, R1point secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s.Key, &sG)

	var apoint secp256k1.JacobianPoint
	A.AsJacobian(&apoint)

	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)
	var eANeg secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&eNeg, &apoint, &eANeg)
	secp256k1.AddNonConst(&sG, &eANeg, &R1point)
	R1point.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1point.X, &R1point.Y)

	var bpoint, sB secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	secp256k1.ScalarMultNonConst(&s.Key, &bpoint, &sB)

	var cpoint, eCNeg, R2point secp256k1.JacobianPoint
	C_.AsJacobian(&cpoint)
	secp256k1.ScalarMultNonConst(&eNeg, &cpoint, &eCNeg)
	secp256k1.AddNonConst(&sB, &eCNeg, &R2point)
	R2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2point.X, &R2point.Y)

	computed := hashToScalar(R1, R2, A, C_)
	return computed.Key.Equals(&e.Key)
}

// hashToScalar hashes the concatenated lowercase hex of each point's
// uncompressed encoding, the NUT-12 challenge format.
func hashToScalar(points ...*secp256k1.PublicKey) *secp256k1.PrivateKey {
	var concat string
	for _, p := range points {
		concat += hex.EncodeToString(p.SerializeUncompressed())
	}
	digest := sha256.Sum256([]byte(concat))
	return secp256k1.PrivKeyFromBytes(digest[:])
}
