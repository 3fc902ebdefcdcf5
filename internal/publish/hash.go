package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jonathan/site-deployer/internal/types"
)

// TreeHash returns a content version for a file set: the hex sha256 over
// every path and its content, in path order.
func TreeHash(files types.Files) string {
	h := sha256.New()
	for _, p := range files.Paths() {
		content := files[p]
		_, _ = fmt.Fprintf(h, "%s\x00%d\x00", p, len(content))
		_, _ = h.Write(content)
	}
	return hex.EncodeToString(h.Sum(nil))
}
