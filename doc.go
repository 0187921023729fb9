// Package siva reads siva files: many small files packed into one flat file,
// followed by an append-only chain of index blocks.
//
// Each write to a siva file appends a block holding new file contents, an
// index describing them and a fixed-size footer. Later blocks can overwrite
// or delete names defined by earlier ones, so the history of every name is
// preserved while the file only ever grows.
//
// A [Reader] walks the chain from the end of the file back to offset 0,
// verifying the CRC32 of every index and computing the absolute offset of
// every entry. The walk is reconciled into an [Index] under one of two
// policies:
//
//   - [PolicyFiltered]: the latest non-deleted version of every name.
//   - [PolicyComplete]: every record, tombstones and overwritten versions
//     included, newest block first.
//
// # Quick Start
//
//	a, err := siva.Open("repo.siva")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	for _, e := range a.Index().Entries() {
//	    fmt.Println(e.Name, e.Size)
//	}
//	content, err := a.ReadFile("objects/pack/pack-1.idx")
//
// [Archive] adds content access on top of the index: positioned reads that
// are safe for concurrent use, CRC verification, extraction to a directory
// and tar export.
package siva
