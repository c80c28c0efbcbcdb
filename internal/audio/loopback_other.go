//go:build !windows

package audio

import "github.com/rs/zerolog"

func loopbackSupported() bool { return false }

func startLoopback(log zerolog.Logger) (*producer, error) {
	return nil, ErrLoopbackUnsupported
}
