package seqdb

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Record represents a single FASTA sequence
type Record struct {
	ID  string
	Seq string
}

// fastaLineWidth is the column at which sequence lines wrap
const fastaLineWidth = 60

// writeFasta serializes records in input order. Output is byte-identical for
// identical input, which keeps artifact fingerprints stable.
func writeFasta(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if _, err := fmt.Fprintf(bw, ">%s\n", rec.ID); err != nil {
			return err
		}
		seq := rec.Seq
		for len(seq) > 0 {
			n := fastaLineWidth
			if len(seq) < n {
				n = len(seq)
			}
			if _, err := fmt.Fprintf(bw, "%s\n", seq[:n]); err != nil {
				return err
			}
			seq = seq[n:]
		}
	}
	return bw.Flush()
}

// ParseFasta reads FASTA records from raw bytes
func ParseFasta(data []byte) ([]Record, error) {
	var records []Record
	var cur *Record
	var seq strings.Builder

	flush := func() {
		if cur != nil {
			cur.Seq = seq.String()
			records = append(records, *cur)
			seq.Reset()
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			cur = &Record{ID: strings.TrimPrefix(line, ">")}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("sequence data before first header")
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan fasta: %w", err)
	}
	flush()

	return records, nil
}
