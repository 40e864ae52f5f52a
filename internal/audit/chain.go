package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// GenesisHash is the prev_hash of the first entry in a log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// maxLineSize bounds one JSONL line. Entries never carry payloads, so a
// longer line is corruption.
const maxLineSize = 1 << 20

// HashLine returns "sha256:<hex>" of one serialized entry, without the
// trailing newline. It is the value the next entry stores as prev_hash.
func HashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// scanLines calls fn for each line of the file with its 1-based number.
// The slice is only valid during the call.
func scanLines(path string, fn func(n int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for sc.Scan() {
		n++
		if err := fn(n, sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("line %d: %w", n+1, err)
	}
	return nil
}

func knownType(t string) bool {
	switch t {
	case TypeDecision, TypeReceipt, TypeApproval:
		return true
	}
	return false
}
