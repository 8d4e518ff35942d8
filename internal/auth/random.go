// ABOUTME: Entropy sources for pairing codes and bearer tokens
// ABOUTME: Reads crypto/rand first and falls back to /dev/urandom before giving up

package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrRandomSourceUnavailable is returned when neither entropy source can be read.
var ErrRandomSourceUnavailable = errors.New("random source unavailable")

const (
	// tokenAlphabet is the symbol set for bearer tokens.
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// TokenLength gives ~256 bits over a 62-symbol alphabet.
	TokenLength = 43

	// PairingCodeLength is the number of decimal digits in a pairing code.
	PairingCodeLength = 6
)

// urandomReader opens /dev/urandom lazily for each read.
type urandomReader struct {
	path string
}

func (u urandomReader) Read(p []byte) (int, error) {
	f, err := os.Open(u.path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadFull(f, p)
}

// entropy reads from primary and retries the whole read from fallback on failure.
type entropy struct {
	primary  io.Reader
	fallback io.Reader
}

func defaultEntropy() entropy {
	return entropy{
		primary:  rand.Reader,
		fallback: urandomReader{path: "/dev/urandom"},
	}
}

func (e entropy) fill(p []byte) error {
	if e.primary != nil {
		if _, err := io.ReadFull(e.primary, p); err == nil {
			return nil
		}
	}
	if e.fallback != nil {
		if _, err := io.ReadFull(e.fallback, p); err == nil {
			return nil
		}
	}
	return ErrRandomSourceUnavailable
}

// digits returns n uniformly distributed decimal digits.
func (e entropy) digits(n int) (string, error) {
	return e.pick(n, "0123456789")
}

// alphanumeric returns n uniformly distributed symbols from tokenAlphabet.
func (e entropy) alphanumeric(n int) (string, error) {
	return e.pick(n, tokenAlphabet)
}

// pick draws n symbols from alphabet using rejection sampling so that no
// symbol is favoured by modulo bias.
func (e entropy) pick(n int, alphabet string) (string, error) {
	size := len(alphabet)
	limit := 256 - (256 % size)

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if err := e.fill(buf); err != nil {
			return "", fmt.Errorf("drawing %d symbols: %w", n, err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%size])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
