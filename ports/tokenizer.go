package ports

import "github.com/layer-3/keyward/core"

// Tokenizer converts between credentials and bearer tokens
type Tokenizer interface {
	CredentialToToken(credential *core.Credential) (string, error)
	TokenToCredential(token string) (*core.Credential, error)
}
