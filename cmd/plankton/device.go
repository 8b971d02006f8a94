package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cyberinferno/plankton/protocol"
	"github.com/google/uuid"
)

// deviceID resolves the 32-byte device identifier. An explicit hex id wins,
// then a stable id derived from name; otherwise a random one is generated.
// Derived ids are the 32 hex characters of a UUID, so they stay printable.
func deviceID(hexID, name string) ([]byte, error) {
	if hexID != "" {
		b, err := hex.DecodeString(hexID)
		if err != nil {
			return nil, fmt.Errorf("device id: %w", err)
		}
		if len(b) != protocol.DeviceSize {
			return nil, fmt.Errorf("device id must be %d bytes, got %d", protocol.DeviceSize, len(b))
		}
		return b, nil
	}

	id := uuid.New()
	if name != "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte("plankton:"+name))
	}
	return []byte(strings.ReplaceAll(id.String(), "-", "")), nil
}
