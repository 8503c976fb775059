package datec

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// userNamespace is the UUIDv5 namespace for user IDs (the RFC 4122 DNS namespace).
var userNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// UserID derives the stable identifier for a username and email pair.
// The same pair always yields the same ID, regardless of case.
func UserID(username, email string) string {
	source := strings.ToLower(strings.TrimSpace(username)) + ":" + strings.ToLower(strings.TrimSpace(email))
	return uuid.NewSHA1(userNamespace, []byte(source)).String()
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeDatasetName trims, replaces whitespace runs with "-" and lower-cases.
func NormalizeDatasetName(name string) string {
	return strings.ToLower(whitespace.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// maxDailySequence is the largest sequence a 3-digit suffix can hold.
const maxDailySequence = 999

// SequenceGenerator mints dataset identifiers of the form {owner}_{YYYYMMDD}_{NNN}.
//
// The next sequence is computed from the highest existing one, so two
// concurrent creates by the same owner on the same day can compute the same
// ID. The metadata store's primary key rejects the second insert; callers
// retry with a fresh ID.
type SequenceGenerator struct {
	datasets DatasetStore
	clock    Clock
}

// NewSequenceGenerator creates a SequenceGenerator.
func NewSequenceGenerator(datasets DatasetStore, clock Clock) *SequenceGenerator {
	return &SequenceGenerator{datasets: datasets, clock: clock}
}

// Next returns the next free dataset ID for owner on today's UTC date.
func (g *SequenceGenerator) Next(ctx context.Context, owner string) (string, error) {
	prefix := fmt.Sprintf("%s_%s_", owner, g.clock.Now().UTC().Format("20060102"))

	highest, err := g.datasets.MaxDatasetSequence(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("reading highest sequence for %s: %w", prefix, err)
	}
	if highest >= maxDailySequence {
		return "", invalidState("dataset.id", "daily dataset limit reached for %s", owner)
	}
	return fmt.Sprintf("%s%03d", prefix, highest+1), nil
}
