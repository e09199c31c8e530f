package session

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	recordFormatVersion = 1
	// version | user id | hash | issued at | expires at
	recordEncodedSize = 1 + 8 + 32 + 8 + 8
)

// Encode serializes r into the fixed binary layout read by the rotation script.
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil record")
	}
	if r.UserID <= 0 {
		return nil, errors.New("invalid record user id")
	}

	var buf bytes.Buffer
	buf.Grow(recordEncodedSize)

	buf.WriteByte(recordFormatVersion)
	if err := binary.Write(&buf, binary.BigEndian, r.UserID); err != nil {
		return nil, err
	}
	buf.Write(r.Hash[:])
	if err := binary.Write(&buf, binary.BigEndian, r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Record, error) {
	if len(data) != recordEncodedSize {
		return nil, errors.New("invalid record size")
	}

	reader := bytes.NewReader(data)
	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersion {
		return nil, errors.New("invalid record version")
	}

	r := &Record{}
	if err := binary.Read(reader, binary.BigEndian, &r.UserID); err != nil {
		return nil, err
	}
	if _, err := reader.Read(r.Hash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}
	if r.UserID <= 0 {
		return nil, errors.New("invalid record user id")
	}

	return r, nil
}
