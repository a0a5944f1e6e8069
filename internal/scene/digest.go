package scene

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"slices"
)

// Digest hashes the node tree and block content in a stable order.
func (s *Scene) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	writeU64(h, &tmp, s.revision)
	writeU64(h, &tmp, s.tree.nextID)
	for _, id := range s.tree.sortedIDs() {
		n := s.tree.get(id)
		writeU64(h, &tmp, n.ID)
		writeU64(h, &tmp, n.Parent)
		writeString(h, &tmp, n.Name)
		writeString(h, &tmp, n.TypeID)
		writeU64(h, &tmp, uint64(len(n.Children)))
		for _, c := range n.Children {
			writeU64(h, &tmp, c)
		}
		keys := make([]string, 0, len(n.Props))
		for k := range n.Props {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			writeString(h, &tmp, k)
			writeString(h, &tmp, n.Props[k])
		}
	}
	for _, c := range s.blocks.All() {
		writeU64(h, &tmp, uint64(int64(c.Pos.X)))
		writeU64(h, &tmp, uint64(int64(c.Pos.Y)))
		writeU64(h, &tmp, uint64(int64(c.Pos.Z)))
		writeString(h, &tmp, string(c.Material))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeU64(h io.Writer, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func writeString(h io.Writer, tmp *[8]byte, s string) {
	writeU64(h, tmp, uint64(len(s)))
	io.WriteString(h, s)
}
