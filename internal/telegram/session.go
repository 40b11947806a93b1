package telegram

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

// SessionFormat identifies how a session string is encoded.
type SessionFormat string

const (
	// FormatTelethon is the "1<base64url>" string session format.
	FormatTelethon SessionFormat = "telethon"
	// FormatNative is a gotgproto exported string session.
	FormatNative SessionFormat = "native"
)

const telethonVersion = '1'

// DetectSessionFormat validates a session string and reports its format.
func DetectSessionFormat(s string) (SessionFormat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSession)
	}
	if _, err := session.TelethonSession(s); err == nil {
		return FormatTelethon, nil
	}
	if _, err := decodeNativeSession(s); err != nil {
		return "", err
	}
	return FormatNative, nil
}

// decodeNativeSession unpacks a gotgproto string session: base64 of a JSON
// storage.Session whose Data is the JSON of the MTProto session.
func decodeNativeSession(s string) (*session.Data, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("%w: not a telethon or base64 session", ErrInvalidSession)
		}
	}

	var stored storage.Session
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("%w: decode string session: %v", ErrInvalidSession, err)
	}
	if len(stored.Data) == 0 {
		return nil, fmt.Errorf("%w: string session has no data", ErrInvalidSession)
	}

	var data session.Data
	if err := json.Unmarshal(stored.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode session data: %v", ErrInvalidSession, err)
	}
	if len(data.AuthKey) != 256 {
		return nil, fmt.Errorf("%w: auth key must be 256 bytes, got %d", ErrInvalidSession, len(data.AuthKey))
	}
	return &data, nil
}

// sessionConstructor picks the gotgproto loader for a session string.
func sessionConstructor(s string) (sessionMaker.SessionConstructor, error) {
	format, err := DetectSessionFormat(s)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if format == FormatTelethon {
		return sessionMaker.TelethonSession(s), nil
	}
	return sessionMaker.StringSession(s), nil
}

// EncodeTelethonSession serialises MTProto session data as a Telethon string
// session: version byte, then base64url of dc, ip, port and the 256 byte key.
func EncodeTelethonSession(data *session.Data) (string, error) {
	if data == nil {
		return "", fmt.Errorf("%w: session data is nil", ErrInvalidSession)
	}
	if len(data.AuthKey) != 256 {
		return "", fmt.Errorf("%w: auth key must be 256 bytes, got %d", ErrInvalidSession, len(data.AuthKey))
	}

	host, portStr, err := net.SplitHostPort(data.Addr)
	if err != nil {
		return "", fmt.Errorf("%w: address %q: %v", ErrInvalidSession, data.Addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", fmt.Errorf("%w: port %q: %v", ErrInvalidSession, portStr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("%w: ip %q", ErrInvalidSession, host)
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	} else {
		ip = ip.To16()
	}

	buf := make([]byte, 0, 1+len(ip)+2+256)
	buf = append(buf, byte(data.DC))
	buf = append(buf, ip...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(port))
	buf = append(buf, data.AuthKey...)

	return string(telethonVersion) + base64.URLEncoding.EncodeToString(buf), nil
}
