package rfb

import (
	"fmt"
	"time"
)

// handshakeTimeout bounds the whole ProtocolVersion+Authentication+
// Initialisation exchange (§4.2, §7 "Handshake timeout").
const handshakeTimeout = 120 * time.Second

// protocolVersionBanner is the 12-byte version string this server
// advertises. The spec restricts the server to the 3.3-class handshake
// (no tight-security-types negotiation, no 3.7/3.8 security-type list),
// even though RFB 3.8 is what most modern viewers speak; 3.8 viewers
// fall back to the 3.3 security model automatically when a server
// advertises 3.3.
var protocolVersionBanner = [12]byte{'R', 'F', 'B', ' ', '0', '0', '3', '.', '0', '0', '3', '\n'}

// securityType values (§4.2).
const (
	secTypeInvalid = 0
	secTypeNone    = 1
	secTypeVNCAuth = 2
)

// authResult values (§4.2).
const (
	authOK     = 0
	authFailed = 1
)

// runHandshake drives one connection through ProtocolVersion,
// Authentication and Initialisation (§4.2), under the combined 120s
// deadline.
func (s *Screen) runHandshake(c *Client) error {
	return c.withDeadline(handshakeTimeout, func() error {
		if err := s.negotiateProtocolVersion(c); err != nil {
			return err
		}
		c.setState(StateAuthentication)
		if err := s.negotiateAuthentication(c); err != nil {
			return err
		}
		c.setState(StateInitialisation)
		if err := s.negotiateInitialisation(c); err != nil {
			return err
		}
		c.setState(StateNormal)
		return nil
	})
}

func (s *Screen) negotiateProtocolVersion(c *Client) error {
	if err := c.sendLocked(func() error {
		return c.write(protocolVersionBanner[:])
	}); err != nil {
		return networkErr("ProtocolVersion", "failed to send banner", err)
	}

	var buf [12]byte
	if err := c.readFull(buf[:]); err != nil {
		return protocolErr("ProtocolVersion", "failed to read client banner", err)
	}
	var major, minor int
	if _, err := fmt.Sscanf(string(buf[:]), "RFB %03d.%03d\n", &major, &minor); err != nil {
		return protocolErr("ProtocolVersion", "malformed client banner", err)
	}
	if major < 3 {
		return protocolErr("ProtocolVersion", "unsupported major version", nil)
	}
	return nil
}

func (s *Screen) negotiateAuthentication(c *Client) error {
	secType := uint32(secTypeNone)
	if s.password != "" {
		secType = secTypeVNCAuth
	}

	if err := c.sendLocked(func() error {
		return c.writeU32(secType)
	}); err != nil {
		return networkErr("Authentication", "failed to send security type", err)
	}

	if secType == secTypeNone {
		return nil
	}
	return s.runVNCAuth(c)
}

// sendConnFailed emits the RFB 3.3-style "connection failed" framing:
// a U32 reason-length followed by the reason text. This is the
// rfbConnFailed(0) shape sent before any security type is chosen —
// during security-type announcement or, here, when on_new_client
// refuses a connection during Initialisation. It must never be reused
// for a post-challenge VNC-DES failure; see sendVNCAuthFailed.
func (c *Client) sendConnFailed(reason string) {
	_ = c.sendLocked(func() error {
		if err := c.writeU32(secTypeInvalid); err != nil {
			return err
		}
		if err := c.writeU32(uint32(len(reason))); err != nil {
			return err
		}
		return c.write([]byte(reason))
	})
}

// sendVNCAuthFailed emits the RFB 3.3 SecurityResult failure framing
// for VNC-DES authentication (§4.2): a bare U32 authFailed code with no
// trailing reason text. This is distinct from sendConnFailed's
// rfbConnFailed(0) shape — a conformant client reads exactly 4 bytes
// here and nothing more, so appending a reason would desync the
// stream.
func (c *Client) sendVNCAuthFailed() {
	_ = c.sendLocked(func() error {
		return c.writeU32(authFailed)
	})
}

func (s *Screen) negotiateInitialisation(c *Client) error {
	var sharedBuf [1]byte
	if err := c.readFull(sharedBuf[:]); err != nil {
		return protocolErr("Initialisation", "failed to read ClientInit", err)
	}
	shared := sharedBuf[0]

	if s.neverShared || (shared == 0 && !s.alwaysShared) {
		if s.dontDisconnect && s.hasOtherClients(c) {
			c.sendConnFailed("server already has a client connected")
			return protocolErr("Initialisation", "refused: non-shared connection with dont-disconnect set", nil)
		}
		s.disconnectOtherClients(c)
	}

	return c.sendLocked(func() error {
		return s.writeServerInit(c)
	})
}

// hasOtherClients reports whether any client besides c is currently
// registered. c itself is not yet in the client list at this point in
// the handshake, so in practice this just checks for a non-empty list,
// but the c comparison keeps the intent explicit.
func (s *Screen) hasOtherClients(c *Client) bool {
	for _, other := range s.Clients() {
		if other != c {
			return true
		}
	}
	return false
}

// writeServerInit writes the full ServerInit message (§4.4):
// framebuffer width, height, pixel format, and the desktop-name
// length-prefixed string.
func (s *Screen) writeServerInit(c *Client) error {
	if err := c.writeU16(uint16(s.width)); err != nil {
		return err
	}
	if err := c.writeU16(uint16(s.height)); err != nil {
		return err
	}
	if err := c.format.Marshal(c.writer); err != nil {
		return err
	}
	name := []byte(s.desktopName)
	if err := c.writeU32(uint32(len(name))); err != nil {
		return err
	}
	return c.write(name)
}

// disconnectOtherClients closes every other currently connected client,
// honoring DontDisconnect (§4.4 "Shared flag").
func (s *Screen) disconnectOtherClients(c *Client) {
	if s.dontDisconnect {
		return
	}
	it := s.BeginIterator()
	defer it.Close()
	for {
		other := it.Next()
		if other == nil {
			return
		}
		if other != c {
			other.Close()
		}
	}
}
