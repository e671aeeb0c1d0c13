package dfx

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

var chunkIDPattern = regexp.MustCompile(`(\d+)\s*:\s*nat32`)

// EncodeBlob renders data as a candid text blob literal: blob "\XX\XX...".
func EncodeBlob(data []byte) string {
	var b strings.Builder
	b.Grow(len(data)*3 + len(`blob ""`))
	b.WriteString(`blob "`)
	for _, c := range data {
		b.WriteByte('\\')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	b.WriteByte('"')
	return b.String()
}

// EncodeChunkArgs renders the candid argument tuple of a chunk upload call.
// Indexed methods take (index : nat32, blob); append-style methods take the blob only.
func EncodeChunkArgs(index uint32, data []byte, indexed bool) string {
	if indexed {
		return fmt.Sprintf("(%d : nat32, %s)", index, EncodeBlob(data))
	}
	return "(" + EncodeBlob(data) + ")"
}

// ParseChunkIDs parses the candid text reply of a chunk listing method, e.g. (vec { 0 : nat32; 3 : nat32 }).
func ParseChunkIDs(reply string) ([]uint32, error) {
	reply = strings.TrimSpace(reply)
	if !strings.Contains(reply, "vec") {
		return nil, fmt.Errorf("unexpected chunk listing reply: %q", truncate(reply, 200))
	}

	set := map[uint32]bool{}
	for _, match := range chunkIDPattern.FindAllStringSubmatch(reply, -1) {
		index, err := strconv.ParseUint(match[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk id %q: %w", match[1], err)
		}
		set[uint32(index)] = true
	}

	indices := make([]uint32, 0, len(set))
	for index := range set {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
