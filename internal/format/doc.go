// Package format decodes the records of a siva index block.
//
// A siva file is a chain of blocks, oldest first. Each block is the
// concatenated content of its files, followed by an index and a fixed-size
// footer:
//
//	index  := "IBA" version:uint8 entry*
//	entry  := nameLen:int32 name mode:uint32 modTime:int64
//	          start:uint64 size:uint64 crc32:uint32 flags:uint32
//	footer := entryCount:uint32 indexSize:uint64 blockSize:uint64 crc32:uint32
//
// All integers are big endian. indexSize covers the index (signature,
// version and entries) but not the footer; blockSize covers content, index
// and footer. Offsets and sizes are stored unsigned but must fit an int64
// to be addressed through io.ReaderAt, so larger values are rejected with
// sivatype.ErrSizeOverflow.
package format
