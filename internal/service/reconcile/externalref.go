package reconcile

import (
	"strconv"
	"strings"
	"time"
)

const externalRefPrefix = "BUYER-"

// EncodeExternalReference builds the reference sent to providers that echo it
// back on payments: BUYER-<buyerID>-<unixMillis>.
func EncodeExternalReference(buyerID string, at time.Time) string {
	return externalRefPrefix + buyerID + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}

// DecodeExternalReference extracts the buyer id and timestamp. Buyer ids may
// contain dashes, so the last dash separates the timestamp.
func DecodeExternalReference(ref string) (buyerID string, at time.Time, ok bool) {
	rest, found := strings.CutPrefix(ref, externalRefPrefix)
	if !found {
		return "", time.Time{}, false
	}
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 || i == len(rest)-1 {
		return "", time.Time{}, false
	}
	stamp := rest[i+1:]
	for _, r := range stamp {
		if r < '0' || r > '9' {
			return "", time.Time{}, false
		}
	}
	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return rest[:i], time.UnixMilli(ms), true
}
