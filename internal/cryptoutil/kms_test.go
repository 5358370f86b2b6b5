package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

const testKeyARN = "arn:aws:kms:us-east-2:000000000000:key/test-key-id"

// generateTestECKey creates an ECDSA key pair for the given curve.
func generateTestECKey(t *testing.T, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate ECDSA key: %v", err)
	}
	return key
}

// generateTestRSAKey creates an RSA-2048 key pair for tests.
func generateTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

// newTestVerifier creates a KMSVerifier with a pre-cached public key so
// verification stays local.
func newTestVerifier(t *testing.T, pub crypto.PublicKey) *KMSVerifier {
	t.Helper()
	v := &KMSVerifier{keyARN: testKeyARN}
	v.pubKey = pub
	return v
}

// fakeKMS implements the KMS API subset with a local private key.
type fakeKMS struct {
	pub      crypto.PublicKey
	keyUsage kmstypes.KeyUsageType
	getErr   error
	signErr  error
	emptySig bool

	getCalls  int
	signCalls int
	lastSign  *kms.SignInput

	// sign produces a signature for the digest the way KMS would.
	sign func(digest []byte, algo kmstypes.SigningAlgorithmSpec) ([]byte, error)
}

func (f *fakeKMS) GetPublicKey(context.Context, *kms.GetPublicKeyInput, ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	der, err := x509.MarshalPKIXPublicKey(f.pub)
	if err != nil {
		return nil, err
	}
	usage := f.keyUsage
	if usage == "" {
		usage = kmstypes.KeyUsageTypeSignVerify
	}
	return &kms.GetPublicKeyOutput{PublicKey: der, KeyUsage: usage}, nil
}

func (f *fakeKMS) Sign(_ context.Context, params *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.signCalls++
	f.lastSign = params
	if f.signErr != nil {
		return nil, f.signErr
	}
	if f.emptySig {
		return &kms.SignOutput{}, nil
	}
	sig, err := f.sign(params.Message, params.SigningAlgorithm)
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{Signature: sig}, nil
}

func ecdsaFake(key *ecdsa.PrivateKey) *fakeKMS {
	return &fakeKMS{
		pub: &key.PublicKey,
		sign: func(digest []byte, _ kmstypes.SigningAlgorithmSpec) ([]byte, error) {
			return ecdsa.SignASN1(rand.Reader, key, digest)
		},
	}
}

// --- verifier ---

func TestVerifySignature_ECDSA_P256_Valid(t *testing.T) {
	key := generateTestECKey(t, elliptic.P256())
	v := newTestVerifier(t, &key.PublicKey)

	message := []byte("manifest bytes")
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := v.VerifySignature(context.Background(), message, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignature_ECDSA_P384_Valid(t *testing.T) {
	key := generateTestECKey(t, elliptic.P384())
	v := newTestVerifier(t, &key.PublicKey)

	message := []byte("manifest bytes")
	digest := sha512.Sum384(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := v.VerifySignature(context.Background(), message, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignature_ECDSA_TamperedMessage(t *testing.T) {
	key := generateTestECKey(t, elliptic.P256())
	v := newTestVerifier(t, &key.PublicKey)

	digest := sha256.Sum256([]byte("original"))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := v.VerifySignature(context.Background(), []byte("tampered"), sig); err == nil {
		t.Fatal("tampered message must fail verification")
	}
}

func TestVerifySignature_RSA_PSS_Valid(t *testing.T) {
	key := generateTestRSAKey(t)
	v := newTestVerifier(t, &key.PublicKey)

	message := []byte("manifest bytes")
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := v.VerifySignature(context.Background(), message, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignature_RSA_PKCS1v15_RejectedByDefault(t *testing.T) {
	key := generateTestRSAKey(t)
	v := newTestVerifier(t, &key.PublicKey)

	message := []byte("manifest bytes")
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := v.VerifySignature(context.Background(), message, sig); err == nil {
		t.Fatal("PKCS1v15 must be rejected when fallback is disabled")
	}

	v.AllowPKCS1v15 = true
	if err := v.VerifySignature(context.Background(), message, sig); err != nil {
		t.Fatalf("PKCS1v15 must verify when fallback is enabled: %v", err)
	}
}

func TestVerifierPublicKey_CachedAfterFirstFetch(t *testing.T) {
	key := generateTestECKey(t, elliptic.P256())
	fake := ecdsaFake(key)
	v := &KMSVerifier{client: fake, keyARN: testKeyARN}

	for i := 0; i < 3; i++ {
		if _, err := v.PublicKey(context.Background()); err != nil {
			t.Fatalf("PublicKey: %v", err)
		}
	}
	if fake.getCalls != 1 {
		t.Fatalf("GetPublicKey calls = %d, want 1", fake.getCalls)
	}
}

func TestVerifierPublicKey_RejectsEncryptKey(t *testing.T) {
	key := generateTestECKey(t, elliptic.P256())
	fake := ecdsaFake(key)
	fake.keyUsage = kmstypes.KeyUsageTypeEncryptDecrypt
	v := &KMSVerifier{client: fake, keyARN: testKeyARN}

	if _, err := v.PublicKey(context.Background()); err == nil {
		t.Fatal("encrypt/decrypt key must be rejected")
	}
}

func TestVerifierPublicKey_NilClient(t *testing.T) {
	v := &KMSVerifier{keyARN: testKeyARN}
	if _, err := v.PublicKey(context.Background()); err == nil {
		t.Fatal("nil client must error")
	}
}

// --- signer ---

func TestSign_ECDSA_P256_RoundTrip(t *testing.T) {
	key := generateTestECKey(t, elliptic.P256())
	fake := ecdsaFake(key)
	s := &KMSSigner{client: fake, keyARN: testKeyARN}

	message := []byte("manifest bytes to publish")
	sig, err := s.Sign(context.Background(), message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if fake.lastSign.MessageType != kmstypes.MessageTypeDigest {
		t.Fatalf("message type = %q, want DIGEST", fake.lastSign.MessageType)
	}
	if fake.lastSign.SigningAlgorithm != kmstypes.SigningAlgorithmSpecEcdsaSha256 {
		t.Fatalf("algorithm = %q", fake.lastSign.SigningAlgorithm)
	}
	wantDigest := sha256.Sum256(message)
	if string(fake.lastSign.Message) != string(wantDigest[:]) {
		t.Fatal("KMS must receive the local digest, not the message")
	}

	v := newTestVerifier(t, &key.PublicKey)
	if err := v.VerifySignature(context.Background(), message, sig); err != nil {
		t.Fatalf("round-trip verification failed: %v", err)
	}
}

func TestSign_ECDSA_P384_SelectsSha384(t *testing.T) {
	key := generateTestECKey(t, elliptic.P384())
	fake := ecdsaFake(key)
	s := &KMSSigner{client: fake, keyARN: testKeyARN}

	message := []byte("manifest bytes")
	sig, err := s.Sign(context.Background(), message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if fake.lastSign.SigningAlgorithm != kmstypes.SigningAlgorithmSpecEcdsaSha384 {
		t.Fatalf("algorithm = %q", fake.lastSign.SigningAlgorithm)
	}

	v := newTestVerifier(t, &key.PublicKey)
	if err := v.VerifySignature(context.Background(), message, sig); err != nil {
		t.Fatalf("round-trip verification failed: %v", err)
	}
}

func TestSign_RSA_PSS_RoundTrip(t *testing.T) {
	key := generateTestRSAKey(t)
	fake := &fakeKMS{
		pub: &key.PublicKey,
		sign: func(digest []byte, _ kmstypes.SigningAlgorithmSpec) ([]byte, error) {
			return rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest, nil)
		},
	}
	s := &KMSSigner{client: fake, keyARN: testKeyARN}

	message := []byte("manifest bytes")
	sig, err := s.Sign(context.Background(), message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if fake.lastSign.SigningAlgorithm != kmstypes.SigningAlgorithmSpecRsassaPssSha256 {
		t.Fatalf("algorithm = %q", fake.lastSign.SigningAlgorithm)
	}

	v := newTestVerifier(t, &key.PublicKey)
	if err := v.VerifySignature(context.Background(), message, sig); err != nil {
		t.Fatalf("round-trip verification failed: %v", err)
	}
}

func TestSign_EmptySignatureRejected(t *testing.T) {
	key := generateTestECKey(t, elliptic.P256())
	fake := ecdsaFake(key)
	fake.emptySig = true
	s := &KMSSigner{client: fake, keyARN: testKeyARN}

	if _, err := s.Sign(context.Background(), []byte("m")); err == nil {
		t.Fatal("empty signature from KMS must be an error")
	}
}

func TestSign_RemoteError(t *testing.T) {
	key := generateTestECKey(t, elliptic.P256())
	fake := ecdsaFake(key)
	fake.signErr = xerrors.New("kms unavailable")
	s := &KMSSigner{client: fake, keyARN: testKeyARN}

	if _, err := s.Sign(context.Background(), []byte("m")); err == nil {
		t.Fatal("remote sign failure must surface")
	}
}

func TestSignerPublicKey_CachedAfterFirstFetch(t *testing.T) {
	key := generateTestECKey(t, elliptic.P256())
	fake := ecdsaFake(key)
	s := &KMSSigner{client: fake, keyARN: testKeyARN}

	for i := 0; i < 3; i++ {
		if _, err := s.Sign(context.Background(), []byte("m")); err != nil {
			t.Fatalf("Sign: %v", err)
		}
	}
	if fake.getCalls != 1 {
		t.Fatalf("GetPublicKey calls = %d, want 1", fake.getCalls)
	}
	if fake.signCalls != 3 {
		t.Fatalf("Sign calls = %d, want 3", fake.signCalls)
	}
}
