// Package registrytypes holds the data types owned by the on-chain indexer
// registry: the read-only configuration this system reconciles against.
package registrytypes

import "fmt"

// Identity is the globally unique key for an indexer function.
type Identity struct {
	AccountID    string
	FunctionName string
}

// Valid reports whether both components of the identity are non-empty.
func (i Identity) Valid() bool {
	return i.AccountID != "" && i.FunctionName != ""
}

// FullName returns the "account/function" form used in logs and as the
// namespace prefix for derived store keys.
func (i Identity) FullName() string {
	return fmt.Sprintf("%s/%s", i.AccountID, i.FunctionName)
}

func (i Identity) String() string { return i.FullName() }
