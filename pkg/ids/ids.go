package ids

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Prefixes for external identifiers
const (
	PrefixService     = "svc"
	PrefixRule        = "rule"
	PrefixFailover    = "fo"
	PrefixSLA         = "sla"
	PrefixMeasurement = "meas"
	PrefixEndpoint    = "ep"
	PrefixReport      = "rep"
)

const randomChars = "abcdefghijklmnopqrstuvwxyz0123456789"

var (
	mu  sync.Mutex
	rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// New returns an identifier in the form <prefix>_<base36-timestamp>_<random9>
func New(prefix string) string {
	mu.Lock()
	defer mu.Unlock()

	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	buf := make([]byte, 9)
	for i := range buf {
		buf[i] = randomChars[rnd.Intn(len(randomChars))]
	}
	return prefix + "_" + ts + "_" + string(buf)
}

// Execution returns an opaque id for internal records such as job executions
func Execution() string {
	return uuid.New().String()
}
