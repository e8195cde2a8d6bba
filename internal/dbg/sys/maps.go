package sys

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	Start, End uint64
	Read       bool
	Write      bool
	Exec       bool
	Private    bool
	Offset     uint64
	Path       string
}

func (m Mapping) Size() uint64 { return m.End - m.Start }

// ParseMaps reads the mappings of a process in the order the kernel lists
// them, which is ascending by address.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var res []Mapping
	s := bufio.NewScanner(r)
	for n := 1; s.Scan(); n++ {
		line := s.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		m, err := parseMapping(line)
		if err != nil {
			return nil, fmt.Errorf("maps line %d: %w", n, err)
		}
		res = append(res, m)
	}
	return res, s.Err()
}

func parseMapping(line string) (Mapping, error) {
	var m Mapping
	// address perms offset dev inode [path]
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return m, fmt.Errorf("invalid mapping: %q", line)
	}

	start, end, ok := strings.Cut(fields[0], "-")
	if !ok {
		return m, fmt.Errorf("invalid address range: %q", fields[0])
	}
	var err error
	if m.Start, err = strconv.ParseUint(start, 16, 64); err != nil {
		return m, err
	}
	if m.End, err = strconv.ParseUint(end, 16, 64); err != nil {
		return m, err
	}

	perms := fields[1]
	if len(perms) != 4 {
		return m, fmt.Errorf("invalid permissions: %q", perms)
	}
	m.Read = perms[0] == 'r'
	m.Write = perms[1] == 'w'
	m.Exec = perms[2] == 'x'
	m.Private = perms[3] == 'p'

	if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return m, err
	}
	if len(fields) > 5 {
		m.Path = strings.Join(fields[5:], " ")
	}
	return m, nil
}

// Find returns the mapping that contains addr.
func Find(maps []Mapping, addr uint64) (Mapping, bool) {
	for _, m := range maps {
		if addr >= m.Start && addr < m.End {
			return m, true
		}
	}
	return Mapping{}, false
}
