package uniqueid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"time"
)

// UniqueId returns a URL-safe identifier built from the current timestamp in
// microseconds followed by 8 random bytes. Ids generated in the same process
// sort roughly by creation time.
func UniqueId() string {
	b := make([]byte, 16)

	binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixMicro()))

	if _, err := rand.Read(b[8:]); err != nil {
		panic(err)
	}

	return base64.RawURLEncoding.EncodeToString(b)
}
