package eth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	siweHeaderSuffix = " wants you to sign in with your Ethereum account:"
	siweTimeLayout   = "2006-01-02T15:04:05.000Z07:00"
)

// ErrMalformedSIWE is returned when a message does not follow EIP-4361
var ErrMalformedSIWE = errors.New("malformed sign-in message")

// SIWEMessage is an EIP-4361 sign-in message
type SIWEMessage struct {
	Domain         string
	Address        common.Address
	Statement      string
	URI            string
	Version        string
	ChainID        int64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime *time.Time
}

// String renders the message in canonical EIP-4361 form
func (m *SIWEMessage) String() string {
	var b strings.Builder
	b.WriteString(m.Domain + siweHeaderSuffix + "\n")
	b.WriteString(m.Address.Hex() + "\n\n")
	if m.Statement != "" {
		b.WriteString(m.Statement + "\n")
	}
	b.WriteString("\n")
	b.WriteString("URI: " + m.URI + "\n")
	b.WriteString("Version: " + m.Version + "\n")
	b.WriteString("Chain ID: " + strconv.FormatInt(m.ChainID, 10) + "\n")
	b.WriteString("Nonce: " + m.Nonce + "\n")
	b.WriteString("Issued At: " + m.IssuedAt.UTC().Format(siweTimeLayout))
	if m.ExpirationTime != nil {
		b.WriteString("\nExpiration Time: " + m.ExpirationTime.UTC().Format(siweTimeLayout))
	}
	return b.String()
}

// ParseSIWEMessage parses a message rendered by SIWEMessage.String
func ParseSIWEMessage(text string) (*SIWEMessage, error) {
	lines := strings.Split(text, "\n")
	if len(lines) < 8 {
		return nil, ErrMalformedSIWE
	}

	domain, ok := strings.CutSuffix(lines[0], siweHeaderSuffix)
	if !ok || domain == "" {
		return nil, fmt.Errorf("%w: header", ErrMalformedSIWE)
	}
	if !common.IsHexAddress(lines[1]) || lines[2] != "" {
		return nil, fmt.Errorf("%w: address", ErrMalformedSIWE)
	}

	m := &SIWEMessage{
		Domain:  domain,
		Address: common.HexToAddress(lines[1]),
	}

	rest := lines[3:]
	if rest[0] != "" {
		m.Statement = rest[0]
		rest = rest[1:]
	}
	if len(rest) == 0 || rest[0] != "" {
		return nil, fmt.Errorf("%w: statement", ErrMalformedSIWE)
	}

	fields := make(map[string]string, len(rest))
	for _, line := range rest[1:] {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("%w: field %q", ErrMalformedSIWE, line)
		}
		fields[key] = value
	}

	m.URI = fields["URI"]
	m.Version = fields["Version"]
	m.Nonce = fields["Nonce"]
	if m.URI == "" || m.Version == "" || m.Nonce == "" {
		return nil, fmt.Errorf("%w: missing required field", ErrMalformedSIWE)
	}

	chainID, err := strconv.ParseInt(fields["Chain ID"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id", ErrMalformedSIWE)
	}
	m.ChainID = chainID

	m.IssuedAt, err = time.Parse(time.RFC3339, fields["Issued At"])
	if err != nil {
		return nil, fmt.Errorf("%w: issued at", ErrMalformedSIWE)
	}

	if exp, ok := fields["Expiration Time"]; ok {
		t, err := time.Parse(time.RFC3339, exp)
		if err != nil {
			return nil, fmt.Errorf("%w: expiration time", ErrMalformedSIWE)
		}
		m.ExpirationTime = &t
	}

	return m, nil
}
