package codec

import (
	"hash/fnv"
	"strconv"

	"github.com/relaymesh/umicp"
)

// HashEnvelope computes the canonical-form digest of spec §4.1's last
// paragraph: the required fields only, in fixed order (version, msg_id,
// ts, from, to, op), hashed with FNV-1a (64-bit) and rendered as
// lowercase hex.
//
// This is documented (per spec §9 Open Question #1) as a local dedup
// key, not a cross-implementation-stable hash: nothing in this codebase
// exchanges the digest with a non-Go peer, and FNV's only stability
// guarantee is within a single algorithm version.
func HashEnvelope(e *umicp.Envelope) string {
	h := fnv.New64a()
	h.Write([]byte(e.Version))
	h.Write([]byte(e.MsgID))
	h.Write([]byte(e.TS))
	h.Write([]byte(e.From))
	h.Write([]byte(e.To))
	h.Write([]byte{byte(e.Op)})
	return strconv.FormatUint(h.Sum64(), 16)
}
