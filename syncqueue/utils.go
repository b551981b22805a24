package syncqueue

import (
	"fmt"
	"math/rand"
	"time"
)

const base64URLCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// generateID returns a random base64URL string of provided length
// Not guaranteed to be unique
func generateID(length int) string {
	r := make([]byte, length)
	for i := range r {
		r[i] = base64URLCharset[rand.Intn(len(base64URLCharset))]
	}

	return string(r)
}

// newTaskID combines a millisecond timestamp with a random suffix so ids
// created within the same millisecond cannot collide
func newTaskID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), generateID(8))
}
