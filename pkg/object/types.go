package object

// Hash is a 64-character hex-encoded SHA-256 digest (an OID).
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

// ParseObjectType validates a wire or on-disk type name.
func ParseObjectType(raw string) (ObjectType, bool) {
	switch t := ObjectType(raw); t {
	case TypeBlob, TypeTree, TypeCommit:
		return t, true
	default:
		return "", false
	}
}

const (
	// Tree mode strings, compatible with Git's canonical modes.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object. Hash names a blob for files and a
// subtree for directories.
type TreeEntry struct {
	Name  string
	Mode  string
	Hash  Hash
	IsDir bool
}

// TreeObj holds a list of tree entries, serialized sorted by Name.
type TreeObj struct {
	Entries []TreeEntry
}

// CommitObj is an immutable commit node.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    string
	Timestamp int64
	Signature string
	Message   string
}
