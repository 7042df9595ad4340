package symtab

import (
	"strconv"
	"strings"
)

// Unknown replaces an empty image or symbol name.
const Unknown = "???"

func imageName(name string) string {
	if name == "" {
		return Unknown
	}
	return name
}

// machoSymbolName drops the underscore the compiler prepends to C symbols.
// Only one is removed: "__foo" becomes "_foo".
func machoSymbolName(name string) string {
	return elfSymbolName(strings.TrimPrefix(name, "_"))
}

func elfSymbolName(name string) string {
	if name == "" {
		return Unknown
	}
	return name
}

func hex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
