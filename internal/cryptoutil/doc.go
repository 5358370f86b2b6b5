// Package cryptoutil provides the cryptographic primitives behind
// manifest integrity: SHA-256 hashing, constant-time hash comparison,
// and KMS-backed signing and verification of the published manifest
// (ECDSA P-256/P-384, RSA-PSS with optional PKCS1v15 fallback).
package cryptoutil
