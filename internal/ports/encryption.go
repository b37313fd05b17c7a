package ports

// TokenCipher encrypts and decrypts access tokens at rest. Each Encrypt
// call generates a fresh random iv; the iv is stored beside the ciphertext
// and is required for decryption, but is not itself a secret.
type TokenCipher interface {
	Encrypt(token string) (ciphertext string, iv string, err error)
	Decrypt(ciphertext string, iv string) (token string, err error)
}
