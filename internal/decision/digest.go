package decision

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/ocx/wafcore/internal/wafmodel"
)

// CacheDigest computes the 128-bit verdict-cache key for req: a hash
// of method‖uri‖body. Headers and source IP are deliberately excluded
// — coarse caching is the point, and it matches what the ML scoring
// actually depends on.
func CacheDigest(req wafmodel.Request) string {
	sum := md5.Sum([]byte(req.Method + "\x00" + req.URI + "\x00" + req.Body))
	return hex.EncodeToString(sum[:])
}
