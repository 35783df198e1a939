package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"conti/internal/core"
)

// parseParticipants reads "alice,bob" or "alice=30,bob=70". The value after
// '=' is an amount, a percentage or a share count depending on splitType and
// is required for everything but equal splits.
func parseParticipants(splitType core.SplitType, spec string) ([]core.Participant, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, core.ErrEmptyParticipants
	}

	var out []core.Participant
	for _, item := range strings.Split(spec, ",") {
		userID, raw, hasValue := strings.Cut(strings.TrimSpace(item), "=")
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return nil, fmt.Errorf("%w: empty user in %q", core.ErrInvalidParticipant, spec)
		}
		p := core.Participant{UserID: userID}

		if splitType == core.SplitEqual {
			out = append(out, p)
			continue
		}
		if !hasValue {
			return nil, fmt.Errorf("%w: %s needs a value for a %s split", core.ErrInvalidParticipant, userID, splitType)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q for %s is not a number", core.ErrInvalidAmount, raw, userID)
		}
		switch splitType {
		case core.SplitExact:
			p.Amount = &v
		case core.SplitPercentage:
			p.Percentage = &v
		case core.SplitShares:
			p.Shares = &v
		}
		out = append(out, p)
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t, nil
}
