package reconcile

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
)

type Confidence string

const (
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// PostedMatch is the suggestion stored on a pending transaction when a
// posted one probably replaces it. It is never merged automatically.
type PostedMatch struct {
	PostedEntryID string     `json:"posted_entry_id"`
	Confidence    Confidence `json:"confidence"`
	PostedAmount  string     `json:"posted_amount"`
	DetectedAt    string     `json:"detected_at"`
}

func (m PostedMatch) extra() domain.Extra {
	return domain.Extra{domain.PostedMatchKey: map[string]any{
		"posted_entry_id": m.PostedEntryID,
		"confidence":      string(m.Confidence),
		"posted_amount":   m.PostedAmount,
		"detected_at":     m.DetectedAt,
	}}
}

// suggestPendingMatch flags a pending transaction that a newly created
// posted one probably replaces, for example a restaurant charge that settled
// with a tip. Ambiguous candidates produce no suggestion.
func (i *Importer) suggestPendingMatch(ctx context.Context, tx *sql.Tx, posted *domain.Entry) error {
	from := daysBefore(posted.Date, i.svc.matching.PendingFuzzyWindowDays)
	candidates, err := i.svc.entries.FindPendingTransactions(ctx, tx, i.account.ID, deref(posted.Source), posted.Currency, from, posted.Date, posted.ID)
	if err != nil {
		return err
	}

	pending, confidence, ambiguous := selectPendingCandidate(posted, candidates,
		i.svc.matching.MediumTolerance(), i.svc.matching.LowTolerance(), i.svc.matching.NameSimilarityThreshold)
	if ambiguous > 1 {
		logging.FromContext(ctx).Info("several pending transactions may have posted, not suggesting",
			"posted_entry_id", posted.ID, "candidates", ambiguous)
	}
	if pending == nil {
		return nil
	}

	match := PostedMatch{
		PostedEntryID: posted.ID.String(),
		Confidence:    confidence,
		PostedAmount:  posted.Amount.String(),
		DetectedAt:    i.svc.now().Format(time.RFC3339),
	}
	t, _ := pending.Transaction()
	t.Extra = t.Extra.Merge(match.extra())
	if err := i.svc.entries.UpdateExtra(ctx, tx, pending.ID, t.Extra); err != nil {
		return err
	}
	i.svc.metrics.RecordSuggestion(string(confidence))
	logging.FromContext(ctx).Info("pending transaction may have posted",
		"pending_entry_id", pending.ID, "posted_entry_id", posted.ID, "confidence", confidence)
	return nil
}

// selectPendingCandidate returns the single pending candidate that matches
// posted with medium confidence, or failing that with low confidence. More
// than one candidate at a level yields nothing, and the number of tied
// candidates is returned.
func selectPendingCandidate(posted *domain.Entry, candidates []domain.Entry, medium, low decimal.Decimal, nameThreshold float64) (*domain.Entry, Confidence, int) {
	var mediums, lows []*domain.Entry
	for idx := range candidates {
		c := &candidates[idx]
		if c.Kind() != domain.EntryKindTransaction {
			continue
		}
		delta, ok := amountDelta(posted.Amount, c.Amount)
		if !ok {
			continue
		}
		switch {
		case delta.LessThanOrEqual(medium):
			mediums = append(mediums, c)
		case delta.LessThanOrEqual(low) && sameMerchant(posted, c) && namesAgree(posted.Name, c.Name, nameThreshold):
			lows = append(lows, c)
		}
	}

	switch {
	case len(mediums) == 1:
		return mediums[0], ConfidenceMedium, 0
	case len(mediums) > 1:
		return nil, "", len(mediums)
	case len(lows) == 1:
		return lows[0], ConfidenceLow, 0
	case len(lows) > 1:
		return nil, "", len(lows)
	}
	return nil, "", 0
}

// amountDelta is |posted - pending| / |pending|. Candidates with the
// opposite sign or a zero amount never match.
func amountDelta(posted, pending decimal.Decimal) (decimal.Decimal, bool) {
	if pending.IsZero() || posted.Sign() != pending.Sign() {
		return decimal.Zero, false
	}
	return posted.Sub(pending).Abs().Div(pending.Abs()), true
}

func sameMerchant(a, b *domain.Entry) bool {
	ta, _ := a.Transaction()
	tb, _ := b.Transaction()
	if ta == nil || tb == nil || ta.MerchantID == nil || tb.MerchantID == nil {
		return false
	}
	return *ta.MerchantID == *tb.MerchantID
}

// namesAgree compares normalized descriptors. Pending descriptors are often
// a truncated form of the posted one, so a prefix counts as agreement.
func namesAgree(a, b string, threshold float64) bool {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb || strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na) {
		return true
	}
	return nameSimilarity(na, nb) >= threshold
}

// nameSimilarity is 1 minus the edit distance over the longer length.
func nameSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func normalizeName(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}
