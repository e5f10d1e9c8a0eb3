// Package clock provides the engine's time source, short-id minting and
// the process-local session identifier.
package clock

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionEnvVar seeds the session id when set by the supervisor.
const SessionEnvVar = "MNEMO_SESSION_ID"

// Clock is the time source handed to every component. The zero value is
// not usable; call New. Tests override Now to pin "today".
type Clock struct {
	Now func() time.Time
}

// New returns a Clock backed by the system time.
func New() *Clock {
	return &Clock{Now: time.Now}
}

// Fixed returns a Clock pinned to t. Test helper.
func Fixed(t time.Time) *Clock {
	return &Clock{Now: func() time.Time { return t }}
}

// NowUTC returns the current instant in UTC.
func (c *Clock) NowUTC() time.Time {
	return c.Now().UTC()
}

// TodayLocal returns the host-local calendar day as YYYY-MM-DD.
func (c *Clock) TodayLocal() string {
	return c.Now().Format("2006-01-02")
}

// TimeHHMM returns the host-local wall time as HH:MM.
func (c *Clock) TimeHHMM() string {
	return c.Now().Format("15:04")
}

// DaysSince returns whole days elapsed from a YYYY-MM-DD day to today,
// clamped at 0 so future-dated rows never produce negative ages.
func (c *Clock) DaysSince(ymd string) int {
	d, err := time.ParseInLocation("2006-01-02", ymd, c.Now().Location())
	if err != nil {
		return 0
	}
	today, _ := time.ParseInLocation("2006-01-02", c.TodayLocal(), c.Now().Location())
	days := int(today.Sub(d).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// MintID returns a short base36 id. It reads 72
// random bits but keeps only the low 10 base36 digits of the first 64,
// about 51 bits of entropy.
func MintID() string {
	var buf [9]byte // 72 bits
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the host is broken; fall back to a
		// time-derived id rather than aborting a save.
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	hi := binary.BigEndian.Uint64(buf[:8])
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		sb.WriteByte(base36[hi%36])
		hi /= 36
	}
	sb.WriteByte(base36[uint64(buf[8])%36])
	s := sb.String()
	if len(s) > 10 {
		s = s[:10]
	}
	return s
}

var (
	sessionOnce sync.Once
	sessionID   string
)

// SessionID returns the cached per-process session id. Seeded from the
// supervisor's environment variable when present, otherwise minted from
// a CSPRNG-backed UUID.
func SessionID() string {
	sessionOnce.Do(func() {
		if v := strings.TrimSpace(os.Getenv(SessionEnvVar)); v != "" {
			sessionID = v
			return
		}
		sessionID = uuid.NewString()
	})
	return sessionID
}
