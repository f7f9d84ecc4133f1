// Package projection builds canonical Booking records from the loosely
// typed field bags produced by the wallet layer, the intent backend and the
// chain indexer. Everything downstream of this package operates on one
// representation only: chain integers as decimal strings plus best-effort
// epoch-second numbers. The normalizer is a pure function of its inputs so
// it can be tested without any wiring.
package projection

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
)

// Input is the loosely typed field bag. Numeric fields accept *big.Int,
// big.Int, json.Number, any Go integer or float type, or a numeric string;
// anything else normalizes to the empty string. TokenID is an alias some
// sources use for LabID; when both are present LabID wins.
type Input struct {
	ReservationKey  any
	LabID           any
	TokenID         any
	UserAddress     string
	Start           any
	End             any
	Status          string
	TransactionHash any
	IntentRequestID string
	IntentStatus    string
	Note            string

	// Now and KeyFactory pin down the two nondeterministic inputs. Both
	// are optional: Now defaults to time.Now and KeyFactory to a UUID.
	Now        func() time.Time
	KeyFactory func() string
}

// Normalize produces the canonical Booking for in. It has no side effects.
func Normalize(in Input) model.Booking {
	now := time.Now
	if in.Now != nil {
		now = in.Now
	}
	keyFactory := defaultKeyFactory
	if in.KeyFactory != nil {
		keyFactory = in.KeyFactory
	}

	labID := DecimalString(in.LabID)
	if labID == "" {
		labID = DecimalString(in.TokenID)
	}

	key := DecimalString(in.ReservationKey)
	if key == "" {
		key = keyFactory()
	}

	start := DecimalString(in.Start)
	end := DecimalString(in.End)
	startTime := epochSeconds(start)
	endTime := epochSeconds(end)

	status := NormalizeStatus(in.Status)

	b := model.Booking{
		ReservationKey:  key,
		LabID:           labID,
		UserAddress:     in.UserAddress,
		Start:           start,
		End:             end,
		StartTime:       startTime,
		EndTime:         endTime,
		Status:          status,
		StatusCategory:  status.Category(),
		IsOptimistic:    true,
		IsPending:       !status.Terminal(),
		TransactionHash: DecimalOrVerbatim(in.TransactionHash),
		IntentRequestID: in.IntentRequestID,
		IntentStatus:    in.IntentStatus,
		Note:            in.Note,
		Date:            localDate(startTime),
		Timestamp:       now().UTC().Format(time.RFC3339),
	}
	return b
}

// NormalizeStatus maps free-form status input onto the closed vocabulary.
// Unrecognized or absent values default to pending, the safest assumption
// for a record whose confirmation has not been observed yet.
func NormalizeStatus(raw string) model.Status {
	s := model.Status(strings.ToLower(strings.TrimSpace(raw)))
	if s.Known() {
		return s
	}
	return model.StatusPending
}

// DecimalString converts any supported numeric representation to its
// decimal string form. Non-numeric strings and unsupported types yield "".
func DecimalString(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case *big.Int:
		if n == nil {
			return ""
		}
		return n.String()
	case big.Int:
		return n.String()
	case json.Number:
		return normalizeNumericString(n.String())
	case string:
		return normalizeNumericString(n)
	case int:
		return strconv.FormatInt(int64(n), 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case uint:
		return strconv.FormatUint(uint64(n), 10)
	case uint32:
		return strconv.FormatUint(uint64(n), 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	case float64:
		return floatString(n)
	case float32:
		return floatString(float64(n))
	}
	return ""
}

// DecimalOrVerbatim is DecimalString except that non-numeric strings pass
// through untouched. Transaction hashes arrive either as 0x-prefixed hex
// strings (kept verbatim) or as big integers (normalized).
func DecimalOrVerbatim(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return DecimalString(v)
}

func normalizeNumericString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Big-integer strings may exceed int64; parse through big.Int so the
	// canonical form drops leading zeros and an explicit plus sign.
	if i, ok := new(big.Int).SetString(s, 10); ok {
		return i.String()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatString(f)
	}
	return ""
}

// maxExactFloat is 2^53, the largest magnitude at which float64 still
// represents every integer exactly.
const maxExactFloat = 1 << 53

func floatString(f float64) string {
	// Reject NaN/Inf, which strconv would happily print. Values at or
	// beyond 2^53 have already lost integer precision in transit, so a
	// decimal rendering would be a plausible-looking wrong identifier;
	// treat them like any other unparseable input.
	if f != f || f >= maxExactFloat || f <= -maxExactFloat {
		return ""
	}
	return strconv.FormatInt(int64(f), 10)
}

// epochSeconds extracts a finite epoch-second number from the normalized
// string, 0 when absent or unparseable.
func epochSeconds(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// localDate derives the display date (YYYY-MM-DD in the local calendar)
// from an epoch-second start. Zero and negative timestamps have no date.
func localDate(epoch int64) string {
	if epoch <= 0 {
		return ""
	}
	return time.Unix(epoch, 0).Format("2006-01-02")
}

func defaultKeyFactory() string {
	return "optimistic-" + uuid.New().String()
}
