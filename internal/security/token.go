package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"
)

// streamTokenPrefix is the prefix used for streaming session tokens.
const streamTokenPrefix = "strm_"

// GenerateStreamToken creates an unguessable streaming session token from the
// current timestamp and a cryptographically random component. The timestamp
// guarantees uniqueness across restarts, the random part defeats guessing.
func GenerateStreamToken() (string, error) {
	secret := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate stream token: %w", err)
	}
	ts := strconv.FormatInt(time.Now().UnixNano(), 36)
	return streamTokenPrefix + ts + "_" + hex.EncodeToString(secret), nil
}
