package transport

import "net"

// Pipe returns a pair of in-memory Streams connected to each other, used
// by tests that need a Stream without opening a real socket (spec.md
// §8's framing/echo tests).
func Pipe() (Stream, Stream) {
	a, b := net.Pipe()
	return a, b
}
