package xsv

// Delim selects a CsvChopper's field separator; the zero value means
// comma. TsvChopper takes no Delim and always splits on tab.
type Delim rune

const (
	Comma     Delim = ','
	Tab       Delim = '\t'
	Semicolon Delim = ';'
	Pipe      Delim = '|'
)
