package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

// Encode serializes s without its session id, which is the Redis key.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	if len(s.Role) > 255 {
		return nil, errors.New("role too long")
	}
	buf.WriteByte(byte(len(s.Role)))
	buf.WriteString(s.Role)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by [Encode].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}

	userID, err := readShortString(reader)
	if err != nil {
		return nil, err
	}
	s.UserID = userID

	role, err := readShortString(reader)
	if err != nil {
		return nil, err
	}
	s.Role = role

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}
	if s.UserID == "" {
		return nil, errors.New("session without user")
	}

	return s, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
