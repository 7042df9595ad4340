package elf

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

// BuildID identifies the contents of an ELF file; Typ is "gnu" or "go".
type BuildID struct {
	ID  string
	Typ string
}

func GNUBuildID(s string) BuildID {
	return BuildID{ID: s, Typ: "gnu"}
}

func GoBuildID(s string) BuildID {
	return BuildID{ID: s, Typ: "go"}
}

func (b *BuildID) Empty() bool {
	return b.ID == "" || b.Typ == ""
}

func (b *BuildID) GNU() bool {
	return b.Typ == "gnu"
}

var (
	ErrNoBuildIDSection = errors.New("build ID section not found")
)

const (
	noteGNUBuildID = 3 // NT_GNU_BUILD_ID
	noteGoBuildID  = 4
)

// BuildID prefers the GNU build ID and falls back to the Go one.
func (f *File) BuildID() (BuildID, error) {
	id, err := f.GNUBuildID()
	if err == nil || !errors.Is(err, ErrNoBuildIDSection) {
		return id, err
	}
	return f.GoBuildID()
}

// GNUBuildID accepts the sizes ld emits: sha1, md5 or uuid, and xxhash.
func (f *File) GNUBuildID() (BuildID, error) {
	desc, err := f.note(".note.gnu.build-id", "GNU", noteGNUBuildID)
	if err != nil {
		return BuildID{}, err
	}
	switch len(desc) {
	case 20, 16, 8:
		return GNUBuildID(hex.EncodeToString(desc)), nil
	}
	return BuildID{}, errors.Errorf("%s: gnu build ID of %d bytes", f.fpath, len(desc))
}

func (f *File) GoBuildID() (BuildID, error) {
	desc, err := f.note(".note.go.buildid", "Go", noteGoBuildID)
	if err != nil {
		return BuildID{}, err
	}
	id := string(bytes.TrimRight(desc, "\x00"))
	if id == "redacted" {
		return BuildID{}, errors.Errorf("%s: redacted go build ID", f.fpath)
	}
	if !bytes.Contains(desc, []byte("/")) {
		return BuildID{}, errors.Errorf("%s: malformed go build ID %q", f.fpath, id)
	}
	return GoBuildID(id), nil
}

// note returns the descriptor of the first note in section matching name and
// typ.
func (f *File) note(section, name string, typ uint32) ([]byte, error) {
	data, err := f.SectionData(section)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", section)
	}
	if data == nil {
		return nil, ErrNoBuildIDSection
	}
	var found []byte
	err = walkNotes(data, f.ByteOrder, func(n note) bool {
		if n.name == name && n.typ == typ {
			found = n.desc
			return false
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, section)
	}
	if found == nil {
		return nil, errors.Wrapf(ErrNoBuildIDSection, "no %s note in %s", name, section)
	}
	return found, nil
}

type note struct {
	name string
	typ  uint32
	desc []byte
}

// walkNotes calls fn for each record of an SHT_NOTE section until fn returns
// false. Name and descriptor are each padded to 4 bytes.
func walkNotes(data []byte, order binary.ByteOrder, fn func(n note) bool) error {
	for len(data) > 0 {
		if len(data) < 12 {
			return errors.Errorf("note header truncated to %d bytes", len(data))
		}
		namesz := uint64(order.Uint32(data[0:]))
		descsz := uint64(order.Uint32(data[4:]))
		typ := order.Uint32(data[8:])
		data = data[12:]

		descOff := align4(namesz)
		descEnd := descOff + descsz
		if descOff > uint64(len(data)) || descEnd > uint64(len(data)) {
			return errors.Errorf("note of %d+%d bytes overruns section", namesz, descsz)
		}
		n := note{
			name: string(bytes.TrimRight(data[:namesz], "\x00")),
			typ:  typ,
			desc: data[descOff:descEnd],
		}
		if !fn(n) {
			return nil
		}
		next := align4(descEnd)
		if next > uint64(len(data)) {
			next = uint64(len(data))
		}
		data = data[next:]
	}
	return nil
}

func align4(n uint64) uint64 {
	return (n + 3) &^ 3
}
