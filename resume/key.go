// Package resume persists which chunks of a payload were accepted by the remote side,
// so an interrupted upload can continue where it stopped.
package resume

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Target is the remote destination of an upload.
type Target struct {
	// Transport is the submit collaborator kind (dfx, http, s3).
	Transport string
	// Endpoint is the canister name, base URL or bucket/prefix the chunks are sent to.
	Endpoint string
	// Method is the canister method or any other transport-specific routing detail.
	Method string
	// Network is the dfx network, if any.
	Network string
}

// Identity describes the payload and its chunk layout. Any change produces a different key,
// so a record is never applied to a payload it was not written for.
type Identity struct {
	Path      string
	Size      int64
	ModTime   time.Time
	ChunkSize int64
	Offset    int64
	// Digest is the content hash of payloads whose modification time is not meaningful.
	Digest string
}

// Key derives the stable resume key of an upload.
func Key(target Target, identity Identity) string {
	fields := []string{
		strings.ToLower(target.Transport),
		target.Endpoint,
		target.Method,
		target.Network,
		identity.Path,
		fmt.Sprint(identity.Size),
		fmt.Sprint(identity.ModTime.UTC().UnixNano()),
		fmt.Sprint(identity.ChunkSize),
		fmt.Sprint(identity.Offset),
	}
	if identity.Digest != "" {
		fields = append(fields, identity.Digest)
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x00")))
	return hex.EncodeToString(sum[:])
}
