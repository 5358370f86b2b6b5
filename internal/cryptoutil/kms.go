package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// kmsKeyFetcher is the subset of the KMS API needed to fetch a public key.
// Extracted as an interface to enable unit testing without live AWS credentials.
type kmsKeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// kmsSignAPI adds the remote signing call used when publishing.
type kmsSignAPI interface {
	kmsKeyFetcher
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// fetchPublicKey pulls and parses the KMS public key, rejecting keys not
// provisioned for signing.
func fetchPublicKey(ctx context.Context, client kmsKeyFetcher, keyARN string) (crypto.PublicKey, error) {
	if client == nil {
		return nil, xerrors.New("kms client is not configured")
	}
	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyARN),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "kms get public key")
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", keyARN, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key DER")
	}
	return pub, nil
}

// KMSVerifier verifies manifest signatures locally against a cached copy
// of the KMS public key, so the render path never signs and only touches
// KMS once per process.
type KMSVerifier struct {
	client kmsKeyFetcher
	keyARN string

	// AllowPKCS1v15 controls whether RSA PKCS1v15 is accepted as a fallback
	// when PSS verification fails. Default false (PSS-only).
	AllowPKCS1v15 bool

	mu     sync.RWMutex
	pubKey crypto.PublicKey
}

func NewKMSVerifier(client *kms.Client, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN, AllowPKCS1v15: false}
}

// PublicKey fetches and caches the KMS public key for local verification.
// First call hits the KMS API, subsequent calls return the cached key.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.RLock()
	if v.pubKey != nil {
		defer v.mu.RUnlock()
		return v.pubKey, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	// double-check after acquiring write lock
	if v.pubKey != nil {
		return v.pubKey, nil
	}

	pub, err := fetchPublicKey(ctx, v.client, v.keyARN)
	if err != nil {
		return nil, err
	}
	v.pubKey = pub
	return v.pubKey, nil
}

// VerifySignature fetches the public key (cached) and verifies the
// signature locally. Supports ECDSA (P-256/P-384) and RSA (PSS-only by
// default).
//
// Key type determines the hash algorithm:
//   - ECDSA P-384: SHA-384
//   - ECDSA P-256: SHA-256
//   - RSA: SHA-256 (PSS only; PKCS1v15 fallback when AllowPKCS1v15 is true)
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}

	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(key, message, signature)
	case *rsa.PublicKey:
		return verifyRSA(key, message, signature, v.AllowPKCS1v15)
	default:
		return xerrors.Newf("unsupported public key type: %T", pub)
	}
}

// KMSSigner signs the manifest at publish time. The private key never
// leaves KMS; only the digest crosses the wire.
type KMSSigner struct {
	client kmsSignAPI
	keyARN string

	mu     sync.RWMutex
	pubKey crypto.PublicKey
}

func NewKMSSigner(client *kms.Client, keyARN string) *KMSSigner {
	return &KMSSigner{client: client, keyARN: keyARN}
}

// PublicKey fetches and caches the signing key's public half. The signer
// needs it to select digest and algorithm to match what verification
// will expect.
func (s *KMSSigner) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	s.mu.RLock()
	if s.pubKey != nil {
		defer s.mu.RUnlock()
		return s.pubKey, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubKey != nil {
		return s.pubKey, nil
	}

	pub, err := fetchPublicKey(ctx, s.client, s.keyARN)
	if err != nil {
		return nil, err
	}
	s.pubKey = pub
	return s.pubKey, nil
}

// Sign produces a detached signature over message, digesting locally and
// sending only the digest to KMS.
func (s *KMSSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	pub, err := s.PublicKey(ctx)
	if err != nil {
		return nil, err
	}
	algo, digest, err := signingParams(pub, message)
	if err != nil {
		return nil, err
	}

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyARN),
		Message:          digest,
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: algo,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "kms sign")
	}
	if len(out.Signature) == 0 {
		return nil, xerrors.New("kms returned an empty signature")
	}
	return out.Signature, nil
}

// signingParams selects the KMS signing algorithm and computes the digest
// for the given key type, mirroring the verifier's expectations.
func signingParams(pub crypto.PublicKey, message []byte) (kmstypes.SigningAlgorithmSpec, []byte, error) {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		switch key.Curve {
		case elliptic.P256():
			d := sha256.Sum256(message)
			return kmstypes.SigningAlgorithmSpecEcdsaSha256, d[:], nil
		case elliptic.P384():
			d := sha512.Sum384(message)
			return kmstypes.SigningAlgorithmSpecEcdsaSha384, d[:], nil
		default:
			return "", nil, xerrors.Newf("unsupported ECDSA curve: %v", key.Curve.Params().Name)
		}
	case *rsa.PublicKey:
		d := sha256.Sum256(message)
		return kmstypes.SigningAlgorithmSpecRsassaPssSha256, d[:], nil
	default:
		return "", nil, xerrors.Newf("unsupported public key type: %T", pub)
	}
}

// verifyECDSA verifies an ECDSA signature, selecting the hash algorithm based on the curve
func verifyECDSA(key *ecdsa.PublicKey, message, signature []byte) error {
	hashFunc, digest, err := ecdsaDigest(key, message)
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(key, digest, signature) {
		return xerrors.Newf("ECDSA signature verification failed. hash: %s, curve: %s", hashFunc.String(), key.Curve.Params().Name)
	}
	return nil
}

// ecdsaDigest selects the hash function based on EC curve and computes the
// digest over message. Returns the crypto.Hash, the digest bytes, and any error.
func ecdsaDigest(key *ecdsa.PublicKey, message []byte) (crypto.Hash, []byte, error) {
	switch key.Curve {
	case elliptic.P256():
		d := sha256.Sum256(message)
		return crypto.SHA256, d[:], nil
	case elliptic.P384():
		d := sha512.Sum384(message)
		return crypto.SHA384, d[:], nil
	default:
		return 0, nil, xerrors.Newf("unsupported ECDSA curve: %v", key.Curve.Params().Name)
	}
}

// verifyRSA verifies an RSA signature using PSS. When allowFallback is true,
// falls back to PKCS1v15 for backward compatibility with existing signatures.
// When false (default), only PSS is accepted.
func verifyRSA(key *rsa.PublicKey, message, signature []byte, allowFallback bool) error {
	digest := sha256.Sum256(message)

	pssErr := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil)
	if pssErr == nil {
		return nil
	}

	if !allowFallback {
		return xerrors.Newf("RSA-PSS verification failed (PKCS1v15 fallback disabled): %v", pssErr)
	}

	// fall back to PKCS1v15 for backward compatibility
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature)
}
