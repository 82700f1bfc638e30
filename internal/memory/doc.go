// Package memory defines the memory atom record and the storage and
// embedding contracts shared by recall's search, chat and CRUD layers.
//
// Concrete storage lives in the memstore, pgstore, chromemstore and
// qdrantstore subpackages; embedding backends live in the embedding subpackage.
package memory
