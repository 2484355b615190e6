package fat

import "encoding/binary"

// nodeKind distinguishes what a Node's payload cluster represents.
type nodeKind uint8

const (
	nodeKindFile nodeKind = iota
	nodeKindDirectory
	nodeKindRoot
)

// Node is the resolved-location view of a directory entry: where the
// entry's own bytes live (parentCluster/parentIndex) and where its name
// run starts (nameCluster/nameIndex), plus the entry's first data cluster
// (payload), size, and access attributes. Nodes are pool-backed: Lookup
// hands them out to callers, and the mutation operations (f_unlink,
// f_rename) borrow one internally to remember "this entry, at this
// position" across a second traversal that reuses the operation's working
// sector context.
//
// parentIndex and nameIndex are the entry's linear directory offset
// (dir.dptr), not a separate cluster+in-cluster-index pair: follow_path
// already flattens a directory's cluster chain into one increasing byte
// offset (dir.next walks across cluster boundaries transparently), so a
// single uint32 offset plus the owning cluster (parentCluster/nameCluster)
// fully identifies the entry without reintroducing that flattening here.
type Node struct {
	fs *FS

	parentCluster uint32
	parentIndex   uint32

	nameCluster uint32
	nameIndex   uint32

	payload uint32
	size    int64
	access  uint8
	kind    nodeKind
}

// newNodeFromDir builds a Node describing the entry dj currently points
// at, after a successful follow_path/find. attr and clust are the entry's
// attribute byte and first data cluster, read from whichever context
// currently holds the entry's sector -- newNodeFromDir itself does no I/O.
func newNodeFromDir(dj *dir, attr uint8, clust uint32) Node {
	nameIdx := dj.blk_ofs
	if nameIdx == maxu32 {
		nameIdx = dj.dptr // No LFN run: the SFN entry is its own name entry.
	}
	kind := nodeKindFile
	switch {
	case attr&amDIR != 0 && dj.obj.sclust == 0 && dj.dptr == 0:
		kind = nodeKindRoot
	case attr&amDIR != 0:
		kind = nodeKindDirectory
	}
	var size int64
	if kind == nodeKindFile && len(dj.dir) >= sizeDirEntry {
		size = int64(binary.LittleEndian.Uint32(dj.dir[dirFileSizeOff:]))
	}
	return Node{
		fs:            dj.obj.fs,
		parentCluster: dj.obj.sclust,
		parentIndex:   dj.dptr,
		nameCluster:   dj.obj.sclust,
		nameIndex:     nameIdx,
		payload:       clust,
		size:          size,
		access:        attr,
		kind:          kind,
	}
}

// isDir reports whether the node names a directory (including root).
func (n *Node) isDir() bool { return n.kind != nodeKindFile }

// Size returns the byte length recorded in the node's directory entry;
// directories report zero.
func (n *Node) Size() int64 { return n.size }

// IsDir reports whether the node names a directory (including the root).
func (n *Node) IsDir() bool { return n.isDir() }

// ReadOnly reports whether the entry carries the read-only attribute.
func (n *Node) ReadOnly() bool { return fileattr(n.access).IsReadonly() }

// FirstCluster returns the first cluster of the node's data chain, zero
// when no cluster is allocated yet.
func (n *Node) FirstCluster() uint32 { return n.payload }

// Close releases the node back to its mount's pool. The node must not be
// used afterward.
func (n *Node) Close() error {
	if n.fs == nil {
		return frInvalidObject
	}
	fsys := n.fs
	n.fs = nil
	fsys.releaseNode(n)
	return nil
}
