package regs

import "encoding/binary"

var host = Arch{Name: "arm", PtrSize: 4, HasLR: true, ByteOrder: binary.LittleEndian}
