package rfb

import (
	"crypto/rand"

	"github.com/libvnc-go/rfbserver/internal/descipher"
)

// runVNCAuth performs the VNC DES challenge/response (§4.2): the server
// sends a random 16-byte challenge, the client returns it encrypted
// under the password-derived DES key, and the server compares.
func (s *Screen) runVNCAuth(c *Client) error {
	if _, err := rand.Read(c.auth.challenge[:]); err != nil {
		return networkErr("Authentication", "failed to generate challenge", err)
	}

	if err := c.sendLocked(func() error {
		return c.write(c.auth.challenge[:])
	}); err != nil {
		return networkErr("Authentication", "failed to send challenge", err)
	}

	var response [16]byte
	if err := c.readFull(response[:]); err != nil {
		return protocolErr("Authentication", "failed to read challenge response", err)
	}

	if !verifyVNCResponse(s.password, c.auth.challenge, response) {
		c.sendVNCAuthFailed()
		return authErr("Authentication", "password mismatch", nil)
	}

	return c.sendLocked(func() error {
		return c.writeU32(authOK)
	})
}

// verifyVNCResponse encrypts challenge under the password-derived DES
// key, two 8-byte blocks at a time (the VNC scheme runs plain ECB DES
// over the 16-byte challenge, not a chained mode), and compares against
// the client's response.
func verifyVNCResponse(password string, challenge, response [16]byte) bool {
	key := descipher.VNCKey(password)

	var block0, block1 [8]byte
	copy(block0[:], challenge[0:8])
	copy(block1[:], challenge[8:16])

	enc0 := descipher.Encrypt(key, block0)
	enc1 := descipher.Encrypt(key, block1)

	var want [16]byte
	copy(want[0:8], enc0[:])
	copy(want[8:16], enc1[:])

	return want == response
}
