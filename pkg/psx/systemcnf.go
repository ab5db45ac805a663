package psx

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// SystemCnfMaxSize is the largest SYSTEM.CNF accepted.
const SystemCnfMaxSize = 2048

// ParseSystemCnf parses SYSTEM.CNF as KEY=VALUE lines. Keys are uppercased
// and values trimmed. The first occurrence of a key wins. Parsing stops at
// a section header, which SYSTEM.CNF never has.
func ParseSystemCnf(data []byte) map[string]string {
	cnf := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimRight(sc.Text(), "\x00"))
		if line == "" || line[0] == ';' || line[0] == '#' {
			continue
		}
		if line[0] == '[' {
			break
		}

		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:i]))
		value := line[i+1:]
		if j := strings.Index(value, " ;"); j >= 0 {
			value = value[:j]
		}
		value = strings.TrimSpace(value)
		if _, ok := cnf[key]; !ok {
			cnf[key] = value
		}
	}
	return cnf
}

// BootFilename derives the boot executable path from a BOOT or BOOT2 value:
// the device prefix and leading separators are removed, arguments after a
// space are split off and a trailing ";N" version is dropped.
func BootFilename(value string) (name, argument string) {
	name = value
	if len(name) >= 5 && strings.EqualFold(name[:5], "cdrom") {
		rest := name[5:]
		rest = strings.TrimPrefix(rest, "0")
		if strings.HasPrefix(rest, ":") {
			name = rest[1:]
		}
	}
	name = strings.TrimLeft(name, `\/`)

	if i := strings.IndexByte(name, ' '); i >= 0 {
		name, argument = name[:i], strings.TrimSpace(name[i+1:])
	}
	if n := len(name); n > 2 && name[n-2] == ';' && name[n-1] >= '0' && name[n-1] <= '9' {
		name = name[:n-2]
	}
	return strings.ReplaceAll(name, `\`, "/"), argument
}

// stackOverride parses the STACK value, a hexadecimal address. Invalid
// values are ignored.
func stackOverride(cnf map[string]string) uint32 {
	v := strings.TrimPrefix(strings.TrimPrefix(cnf["STACK"], "0x"), "0X")
	if v == "" {
		return 0
	}
	sp, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(sp)
}
