package model

// IngestEnvelope carries one physical raw line with its position in the source.
// It is the transport contract between raw sources and the assembler.
type IngestEnvelope struct {
	Source string
	LineNo int64 // 1-based physical line number
	Offset int64 // byte offset of the line start in the source file
	End    int64 // byte offset just past the line terminator
	Line   string
}
