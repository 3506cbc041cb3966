package group

import (
	"fmt"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// directory maps "<group>/<id>" keys to member ids. Each join produces a new
// tree so readers holding an older root keep a consistent view.
type directory struct {
	tree *iradix.Tree
}

func newDirectory() *directory {
	return &directory{tree: iradix.New()}
}

func memberKey(group string, id ID) []byte {
	return []byte(fmt.Sprintf("%s/%020d", group, uint64(id)))
}

func (d *directory) add(group string, id ID) {
	d.tree, _, _ = d.tree.Insert(memberKey(group, id), id)
}

func (d *directory) remove(group string, id ID) {
	d.tree, _, _ = d.tree.Delete(memberKey(group, id))
}

func (d *directory) subgroup(group string) Set {
	s := NewSet()
	d.tree.Root().WalkPrefix([]byte(group+"/"), func(k []byte, v interface{}) bool {
		s.Add(v.(ID))
		return false
	})
	return s
}
