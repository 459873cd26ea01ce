package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/irfndi/celebrum-forecast/internal/models"
)

// DefaultFingerprintTail is the number of trailing revenues mixed into a fingerprint
const DefaultFingerprintTail = 7

// Fingerprint identifies a training history by its length, first and last date and
// the last tail revenues. Equal histories always produce equal fingerprints.
func Fingerprint(history []models.Observation, tail int) string {
	h := sha256.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(len(history)))
	h.Write(buf[:])
	if len(history) == 0 {
		return hex.EncodeToString(h.Sum(nil))[:32]
	}

	h.Write([]byte(models.DayKey(history[0].Date)))
	h.Write([]byte(models.DayKey(history[len(history)-1].Date)))

	if tail <= 0 {
		tail = DefaultFingerprintTail
	}
	start := max(0, len(history)-tail)
	for _, obs := range history[start:] {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(math.Round(obs.Revenue*100)/100))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
