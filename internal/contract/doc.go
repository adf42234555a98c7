// Package contract defines data contracts: document types with their
// properties and composite indexes, groups, and token configurations.
//
// Contracts are authored in CUE (LoadCUE), travel as canonical CBOR
// (EncodeCBOR/DecodeCBOR), and are stored in the grove tree by Registry.
// A contract is immutable once loaded; token configuration updates produce a
// new version through Registry.Put.
//
// Tree layout owned by this package:
//
//	[64]/<contract id>/[0]                  contract CBOR (item)
//	[64]/<contract id>/[1]/<type name>      document type root (tree)
//	    .../[0]/<document id>               primary key layer
//	    .../<property>/<value>/...          index layers
package contract
