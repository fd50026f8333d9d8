// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultPrefix is prepended to every generated ID.
var DefaultPrefix = "hw-"

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// Generate returns a new unique ID using the default prefix.
func Generate() (string, error) {
	return GenerateWithPrefix(DefaultPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// SnapshotKey returns a storage key for an event snapshot captured at t,
// bucketed by UTC day: "20261016/snap-XXXXXXXXXX.jpg".
func SnapshotKey(t time.Time) (string, error) {
	id, err := GenerateWithPrefix("snap-")
	if err != nil {
		return "", err
	}
	return t.UTC().Format("20060102") + "/" + id + ".jpg", nil
}

// SubscriberID returns an identifier for a live feed subscriber.
func SubscriberID() string {
	id, err := GenerateWithPrefix("sub-")
	if err != nil {
		// nanoid only fails when crypto/rand does.
		return fmt.Sprintf("sub-%d", time.Now().UnixNano())
	}
	return id
}
