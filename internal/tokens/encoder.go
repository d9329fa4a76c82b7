package tokens

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const entryFormatVersionCurrent = 1

// StatusActive marks a registered, usable token.
const StatusActive byte = 1

// Entry is the value stored under jti_{jti}_{type} for every live token.
type Entry struct {
	Status    byte
	UserID    string
	IP        string
	UserAgent string
	IssuedAt  int64
	ExpiresAt int64
}

// Encode serializes e into the compact registry format.
func Encode(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(1 + 1 + 1 + len(e.UserID) + 1 + len(e.IP) + 2 + len(e.UserAgent) + 16)

	buf.WriteByte(entryFormatVersionCurrent)
	buf.WriteByte(e.Status)

	if len(e.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(e.UserID)))
	buf.WriteString(e.UserID)

	if len(e.IP) > 255 {
		return nil, errors.New("ip too long")
	}
	buf.WriteByte(byte(len(e.IP)))
	buf.WriteString(e.IP)

	if len(e.UserAgent) > 0xFFFF {
		return nil, errors.New("user agent too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(e.UserAgent))); err != nil {
		return nil, err
	}
	buf.WriteString(e.UserAgent)

	if err := binary.Write(&buf, binary.BigEndian, e.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, e.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a registry value produced by Encode.
func Decode(data []byte) (*Entry, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != entryFormatVersionCurrent {
		return nil, errors.New("invalid entry version")
	}

	e := &Entry{}
	if e.Status, err = reader.ReadByte(); err != nil {
		return nil, err
	}

	if e.UserID, err = readString8(reader); err != nil {
		return nil, err
	}
	if e.IP, err = readString8(reader); err != nil {
		return nil, err
	}

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	e.UserAgent = string(ua)

	if err := binary.Read(reader, binary.BigEndian, &e.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &e.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in entry")
	}

	return e, nil
}

func readString8(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
