// Package pointid derives stable identities for documents and their vector points.
package pointid

import (
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// namespace scopes the version-5 UUIDs generated for chunk points.
var namespace = uuid.MustParse("6f1c3b9e-4d2a-5e8f-9a7b-2c4d6e8f0a1b")

// PointID returns the identity of chunk chunkIndex of documentID.
// The same pair always yields the same UUID, so re-indexing overwrites instead of duplicating.
func PointID(documentID string, chunkIndex int) string {
	name := documentID + "#" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// DocumentID returns the document identity for a provider path.
// "/a/b.txt", "a/b.txt" and "a//b.txt" all map to "a/b.txt".
func DocumentID(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// DocumentPath returns the display path for a document identity, always with a leading slash.
func DocumentPath(documentID string) string {
	return "/" + DocumentID(documentID)
}

// DocumentName returns the last path element of a document identity.
func DocumentName(documentID string) string {
	id := DocumentID(documentID)
	if id == "" {
		return ""
	}
	return path.Base(id)
}
