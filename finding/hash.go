package finding

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/xxh3"
)

// Hash returns the content hash identifying an issue across scan runs: the
// hex encoded xxh3-128 digest of the NUL separated asset name, type and title.
func Hash(assetName, findingType, title string) string {
	key := strings.Join([]string{assetName, findingType, title}, "\x00")
	sum := xxh3.HashString128(key).Bytes()
	return hex.EncodeToString(sum[:])
}
