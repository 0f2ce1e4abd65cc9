// Package crypto provides the cryptographic operations for freedisk config files.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from password via PBKDF2
//   - 12-byte random nonce per encryption operation
//   - Authenticated encryption prevents tampering
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 32-byte random salt, regenerated on every Seal
//   - 210,000 iterations (OWASP minimum recommendation)
//
// Seal and Open wrap this in a self-describing envelope so a config file
// carries its own KDF parameters.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() when done with encryption operations
package crypto
