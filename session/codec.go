package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Binary layout, version 1. The fixed-offset header lets the store's Lua
// scripts read flags, expiry, and the refresh hash without decoding the
// variable-length tail.
//
//	offset 0      format version
//	offset 1      flags (bit 0: revoked)
//	offset 2-9    created-at, int64 big endian
//	offset 10-17  expires-at, int64 big endian
//	offset 18-49  refresh hash
//	offset 50-81  fingerprint hash
//	offset 82-    principal id (len byte + bytes), then role count byte
//	              followed by len-prefixed role names
const (
	formatVersionV1 = 1

	flagRevoked byte = 1 << 0

	// FlagsOffset and RefreshHashOffset are shared with the store's Lua
	// scripts; changing the layout requires a new format version.
	FlagsOffset       = 1
	expiresAtOffset   = 10
	RefreshHashOffset = 18
)

// ErrCorruptRecord is returned when a stored blob cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt session record")

// Encode serializes a session into its versioned binary form.
func Encode(s *Session) ([]byte, error) {
	if len(s.PrincipalID) == 0 || len(s.PrincipalID) > 255 {
		return nil, errors.New("principal id length out of range")
	}
	if len(s.Roles) > 255 {
		return nil, errors.New("too many roles")
	}

	var buf bytes.Buffer
	buf.WriteByte(formatVersionV1)

	var flags byte
	if s.Revoked {
		flags |= flagRevoked
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	buf.Write(s.RefreshHash[:])
	buf.Write(s.FingerprintHash[:])

	buf.WriteByte(byte(len(s.PrincipalID)))
	buf.WriteString(s.PrincipalID)

	buf.WriteByte(byte(len(s.Roles)))
	for _, role := range s.Roles {
		if len(role) == 0 || len(role) > 255 {
			return nil, errors.New("role name length out of range")
		}
		buf.WriteByte(byte(len(role)))
		buf.WriteString(role)
	}

	return buf.Bytes(), nil
}

// Decode deserializes a stored blob. The session ID is not part of the
// record; callers set it from the key they fetched.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != formatVersionV1 {
		return nil, ErrCorruptRecord
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorruptRecord
	}

	s := &Session{Revoked: flags&flagRevoked != 0}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, ErrCorruptRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, ErrCorruptRecord
	}
	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, ErrCorruptRecord
	}
	if _, err := io.ReadFull(reader, s.FingerprintHash[:]); err != nil {
		return nil, ErrCorruptRecord
	}

	pidLen, err := reader.ReadByte()
	if err != nil || pidLen == 0 {
		return nil, ErrCorruptRecord
	}
	pid := make([]byte, pidLen)
	if _, err := io.ReadFull(reader, pid); err != nil {
		return nil, ErrCorruptRecord
	}
	s.PrincipalID = string(pid)

	roleCount, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorruptRecord
	}
	if roleCount > 0 {
		s.Roles = make([]string, 0, roleCount)
		for i := 0; i < int(roleCount); i++ {
			roleLen, err := reader.ReadByte()
			if err != nil || roleLen == 0 {
				return nil, ErrCorruptRecord
			}
			role := make([]byte, roleLen)
			if _, err := io.ReadFull(reader, role); err != nil {
				return nil, ErrCorruptRecord
			}
			s.Roles = append(s.Roles, string(role))
		}
	}

	if reader.Len() != 0 {
		return nil, ErrCorruptRecord
	}
	return s, nil
}
