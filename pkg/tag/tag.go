// Package tag defines page and relation identity for the versioned page index.
package tag

import "fmt"

// Fork distinguishes the auxiliary storage streams attached to a relation.
type Fork uint8

const (
	Main Fork = 0
	FSM  Fork = 1
	VM   Fork = 2
	Init Fork = 3
)

func (f Fork) String() string {
	switch f {
	case Main:
		return "main"
	case FSM:
		return "fsm"
	case VM:
		return "vm"
	case Init:
		return "init"
	default:
		return fmt.Sprintf("fork(%d)", uint8(f))
	}
}

// ForkFromName maps a relfile fork suffix to its numeric discriminator.
// Reports ok=false for anything outside the fixed set.
func ForkFromName(name string) (Fork, bool) {
	switch name {
	case "":
		return Main, true
	case "fsm":
		return FSM, true
	case "vm":
		return VM, true
	case "init":
		return Init, true
	default:
		return 0, false
	}
}

// Well-known tablespace OIDs, per Postgres convention.
const (
	GlobalTablespace  uint32 = 1664
	DefaultTablespace uint32 = 1663
)

// RelTag identifies a relation, independent of any particular block.
type RelTag struct {
	Tablespace uint32
	Database   uint32
	Relation   uint32
	Fork       Fork
}

// Less reports whether r sorts strictly before o, by field order
// (tablespace, database, relation, fork).
func (r RelTag) Less(o RelTag) bool {
	if r.Tablespace != o.Tablespace {
		return r.Tablespace < o.Tablespace
	}
	if r.Database != o.Database {
		return r.Database < o.Database
	}
	if r.Relation != o.Relation {
		return r.Relation < o.Relation
	}
	return r.Fork < o.Fork
}

func (r RelTag) String() string {
	return fmt.Sprintf("%d/%d/%d.%s", r.Tablespace, r.Database, r.Relation, r.Fork)
}

// Tag identifies a single page: a relation plus a block number.
type Tag struct {
	Tablespace uint32
	Database   uint32
	Relation   uint32
	Fork       Fork
	Block      uint32
}

// Rel returns the RelTag for t, dropping the block number.
func (t Tag) Rel() RelTag {
	return RelTag{
		Tablespace: t.Tablespace,
		Database:   t.Database,
		Relation:   t.Relation,
		Fork:       t.Fork,
	}
}

// Less reports whether t sorts strictly before o, by field order
// (tablespace, database, relation, fork, block) as required by the
// index's total order over Tags.
func (t Tag) Less(o Tag) bool {
	if t.Tablespace != o.Tablespace {
		return t.Tablespace < o.Tablespace
	}
	if t.Database != o.Database {
		return t.Database < o.Database
	}
	if t.Relation != o.Relation {
		return t.Relation < o.Relation
	}
	if t.Fork != o.Fork {
		return t.Fork < o.Fork
	}
	return t.Block < o.Block
}

func (t Tag) String() string {
	return fmt.Sprintf("%d/%d/%d.%s.%d", t.Tablespace, t.Database, t.Relation, t.Fork, t.Block)
}

// PageSize is the fixed size of a page image, in bytes.
const PageSize = 8192
