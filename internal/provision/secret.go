package provision

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
)

// CharClass selects which character classes a generated secret must contain.
type CharClass uint8

const (
	Uppercase CharClass = 1 << iota
	Lowercase
	Digits
	Symbols

	// AllClasses is the profile used for server access passwords.
	AllClasses = Uppercase | Lowercase | Digits | Symbols
)

var classAlphabets = []struct {
	class CharClass
	chars string
}{
	{Uppercase, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"},
	{Lowercase, "abcdefghijklmnopqrstuvwxyz"},
	{Digits, "0123456789"},
	{Symbols, "!@#$%^&*()-_=+[]{}<>?"},
}

// SecretGenerator produces one-time credentials from the platform's secure
// random source. It is stateless; every method is a pure function of that
// source. A read failure surfaces as ErrEntropyUnavailable and is never
// papered over with a weaker source.
type SecretGenerator struct {
	rand io.Reader
}

func NewSecretGenerator() *SecretGenerator {
	return &SecretGenerator{rand: rand.Reader}
}

// Generate returns a secret of the given length in which every required class
// appears at least once. All remaining positions draw from the union alphabet
// of the required classes, so entropy is not capped at a single class.
func (g *SecretGenerator) Generate(length int, classes CharClass) (string, error) {
	if classes == 0 {
		return "", fmt.Errorf("%w: no character classes required", ErrInvalidSpec)
	}

	var required []string
	var union string
	for _, a := range classAlphabets {
		if classes&a.class != 0 {
			required = append(required, a.chars)
			union += a.chars
		}
	}
	if length < len(required) {
		return "", fmt.Errorf("%w: length %d cannot cover %d character classes", ErrInvalidSpec, length, len(required))
	}

	out := make([]byte, length)

	// One guaranteed character per required class, then fill from the union.
	for i, chars := range required {
		c, err := g.pick(chars)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := len(required); i < length; i++ {
		c, err := g.pick(union)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Fisher-Yates so the guaranteed characters do not sit at fixed positions.
	for i := length - 1; i > 0; i-- {
		j, err := g.intn(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

// GenerateToken returns a URL-safe token built from numBytes of randomness,
// used for panel authentication links.
func (g *SecretGenerator) GenerateToken(numBytes int) (string, error) {
	buf := make([]byte, numBytes)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (g *SecretGenerator) pick(chars string) (byte, error) {
	i, err := g.intn(len(chars))
	if err != nil {
		return 0, err
	}
	return chars[i], nil
}

// intn returns a uniform value in [0, n) without modulo bias.
func (g *SecretGenerator) intn(n int) (int, error) {
	v, err := rand.Int(g.rand, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return int(v.Int64()), nil
}
