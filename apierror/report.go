package apierror

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"github.com/certifi/gocertifi"
	raven "github.com/getsentry/raven-go"
)

// init checks at startup that the certifi/gocertifi CA bundle, which raven
// loads on its own to validate its HTTPS connection to the Sentry
// collector, can be read, and logs when it cannot. The same way bendo's
// store/s3.go relies on certifi/gocertifi being vendored alongside raven-go.
func init() {
	if _, err := gocertifi.CACerts(); err != nil {
		log.Printf("apierror: gocertifi unavailable: %s", err)
	}
}

// Report sends an unexpected backend error to Sentry tagged with a
// correlation id, and returns that id so the caller can log it alongside
// the generic message sent to the client (spec §7: "Backend exceptions
// never leak structured details into the body; they are logged with a
// correlation id").
func Report(err error, tags map[string]string) string {
	id := newCorrelationID()
	if tags == nil {
		tags = map[string]string{}
	}
	tags["correlation_id"] = id
	raven.CaptureError(err, tags)
	log.Printf("correlation=%s error=%s", id, err)
	return id
}

func newCorrelationID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
