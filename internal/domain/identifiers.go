package domain

import (
	"crypto/md5"
	"encoding/hex"
)

// MaxIdentifierLength is the Postgres NAMEDATALEN limit.
const MaxIdentifierLength = 63

// TruncateIdentifier shortens identifiers beyond the Postgres limit while
// keeping them unique through a hash suffix.
func TruncateIdentifier(ident string) string {
	if len(ident) <= MaxIdentifierLength {
		return ident
	}
	sum := md5.Sum([]byte(ident))
	digest := hex.EncodeToString(sum[:])
	return ident[:MaxIdentifierLength-8] + "_" + digest[len(digest)-4:]
}

// ConstraintName derives a constraint or index name from a table name.
func ConstraintName(table, suffix string) string {
	return TruncateIdentifier(table + "_" + suffix)
}
