package resume

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/fileutil"
)

// ReadIndexFile reads a list of chunk indices: decimal numbers separated by whitespace or commas,
// with '#' starting a comment. Duplicates are removed and the result is sorted.
func ReadIndexFile(fileManager fileutil.FileManager, pth string) ([]uint32, error) {
	f, err := fileManager.Open(pth)
	if err != nil {
		return nil, fmt.Errorf("open chunk index file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseIndexList(f)
}

// ParseIndexList parses the index list format of ReadIndexFile.
func ParseIndexList(r io.Reader) ([]uint32, error) {
	set := map[uint32]struct{}{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		for _, field := range fields {
			index, err := strconv.ParseUint(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid chunk index %q", line, field)
			}
			set[uint32(index)] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sortedIndices(set), nil
}

// WriteIndexFile writes indices one per line, in the format ReadIndexFile accepts.
func WriteIndexFile(fileManager fileutil.FileManager, pth string, indices []uint32) error {
	sorted := append([]uint32(nil), indices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var b strings.Builder
	for _, index := range sorted {
		b.WriteString(strconv.FormatUint(uint64(index), 10))
		b.WriteByte('\n')
	}
	if err := fileManager.Write(pth, b.String(), 0600); err != nil {
		return fmt.Errorf("write chunk index file: %w", err)
	}
	return nil
}

// FormatRanges renders sorted indices as compact ranges, e.g. "0-3, 7, 9-10".
func FormatRanges(indices []uint32) string {
	if len(indices) == 0 {
		return "none"
	}

	var parts []string
	start, prev := indices[0], indices[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.FormatUint(uint64(start), 10))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, index := range indices[1:] {
		if index == prev+1 {
			prev = index
			continue
		}
		flush()
		start, prev = index, index
	}
	flush()
	return strings.Join(parts, ", ")
}
