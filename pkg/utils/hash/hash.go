package hash

import (
	"encoding/hex"
	"hash"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

// DeepHashObject writes specified object to hash using the spew library
// which follows pointers and prints actual values of the nested objects
// ensuring the hash does not change when a pointer changes.
func DeepHashObject(hasher hash.Hash, objectToWrite any) {
	hasher.Reset()
	printer := spew.ConfigState{
		Indent:         " ",
		SortKeys:       true,
		DisableMethods: true,
		SpewKeys:       true,
	}
	printer.Fprintf(hasher, "%#v", objectToWrite)
}

// ComputeHash returns a short stable hex digest of the object
func ComputeHash(obj any) string {
	hasher := fnv.New64a()
	DeepHashObject(hasher, obj)
	return hex.EncodeToString(hasher.Sum(nil))
}
