package reconcile

import (
	"regexp"
	"strings"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

// Patterns only match names that unambiguously describe the activity.
// Transfers and deposits are never inferred.
var labelPatterns = []struct {
	label    domain.ActivityLabel
	patterns []*regexp.Regexp
}{
	{domain.ActivityDividend, []*regexp.Regexp{
		regexp.MustCompile(`^(qualified |non-qualified |ordinary |cash )?dividends?( received| paid| payment)?\b`),
		regexp.MustCompile(`\b(cash )?dividends? (received|paid|payment)\b`),
	}},
	{domain.ActivityInterest, []*regexp.Regexp{
		regexp.MustCompile(`^(credit |cash |bank )?interest( earned| paid| payment| income| credit)?$`),
		regexp.MustCompile(`^(credit |cash |bank )?interest (earned|paid|payment|income|credit)\b`),
	}},
	{domain.ActivityFee, []*regexp.Regexp{
		regexp.MustCompile(`^(account|management|advisory|maintenance|custody|custodial|wire) fees?\b`),
		regexp.MustCompile(`\bfees? (charged|assessed)\b`),
	}},
	{domain.ActivityContribution, []*regexp.Regexp{
		regexp.MustCompile(`^(employee |employer |roth |ira )?contributions?\b`),
		regexp.MustCompile(`\b(401k|401\(k\)|403b|ira|hsa|roth) contributions?\b`),
	}},
}

// reinvestments are purchases, not income.
var labelExclusions = regexp.MustCompile(`\breinvest`)

// InferActivityLabel guesses an investment activity label from a transaction
// name. It only ever returns Dividend, Interest, Fee or Contribution.
func InferActivityLabel(name string) (domain.ActivityLabel, bool) {
	s := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if s == "" || labelExclusions.MatchString(s) {
		return "", false
	}
	for _, lp := range labelPatterns {
		for _, re := range lp.patterns {
			if re.MatchString(s) {
				return lp.label, true
			}
		}
	}
	return "", false
}
