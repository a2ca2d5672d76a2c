// Package risk implements the deterministic heuristic fraud scorer.
//
// Every transaction is scored by five independent additive factors: amount
// tier, 24h frequency, deviation from the account's mean amount, account age
// and transaction type. The sum is capped at 100; scores at or above
// FlagThreshold flag the transaction and raise an alert.
package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/banking-core/internal/models"
)

const (
	MaxScore      = 100
	FlagThreshold = 75

	// FrequencyWindow is the trailing window for the frequency factor.
	FrequencyWindow = 24 * time.Hour
)

type Factor string

const (
	FactorAmount     Factor = "amount_tier"
	FactorFrequency  Factor = "frequency"
	FactorPattern    Factor = "pattern_deviation"
	FactorAccountAge Factor = "account_age"
	FactorType       Factor = "type_weight"
)

var (
	amountHigh   = decimal.NewFromInt(50000)
	amountMedium = decimal.NewFromInt(10000)
	amountLow    = decimal.NewFromInt(5000)
	three        = decimal.NewFromInt(3)
	two          = decimal.NewFromInt(2)
)

// Assessment is the explainable result of scoring one transaction. Factors
// only lists factors that contributed.
type Assessment struct {
	Score   int            `json:"score"`
	Factors map[Factor]int `json:"factors"`
}

func (a *Assessment) Flagged() bool {
	return ShouldFlag(a.Score)
}

// Status is the final transaction status implied by the score.
func (a *Assessment) Status() models.TransactionStatus {
	if a.Flagged() {
		return models.StatusFlagged
	}
	return models.StatusCompleted
}

// Explain renders the contributing factors in a stable order.
func (a *Assessment) Explain() string {
	names := make([]string, 0, len(a.Factors))
	for f := range a.Factors {
		names = append(names, string(f))
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", n, a.Factors[Factor(n)]))
	}
	return fmt.Sprintf("risk score %d (%s)", a.Score, strings.Join(parts, ", "))
}

func ShouldFlag(score int) bool {
	return score >= FlagThreshold
}

// Compute scores txn against its payer account and the aggregates of the
// account's strictly prior transactions. Account age is measured at the
// transaction's creation time.
func Compute(txn *models.Transaction, account *models.Account, history *models.RiskHistory) *Assessment {
	a := &Assessment{Factors: make(map[Factor]int)}
	add := func(f Factor, w int) {
		if w > 0 {
			a.Factors[f] = w
			a.Score += w
		}
	}

	add(FactorAmount, amountWeight(txn.Amount))
	add(FactorFrequency, frequencyWeight(history.RecentCount+1))
	add(FactorPattern, patternWeight(txn.Amount, history))
	add(FactorAccountAge, ageWeight(txn.CreatedAt.Sub(account.CreatedAt)))
	add(FactorType, typeWeight(txn.Type))

	if a.Score > MaxScore {
		a.Score = MaxScore
	}
	return a
}

func amountWeight(amount decimal.Decimal) int {
	switch {
	case amount.GreaterThan(amountHigh):
		return 30
	case amount.GreaterThan(amountMedium):
		return 15
	case amount.GreaterThan(amountLow):
		return 5
	}
	return 0
}

// frequencyWeight takes the ordinal of the scored transaction within the
// window, so the 11th transaction in 24h is the first to earn the top tier.
func frequencyWeight(ordinal int) int {
	switch {
	case ordinal > 10:
		return 25
	case ordinal > 5:
		return 10
	}
	return 0
}

// patternWeight is zero for accounts without prior transactions.
func patternWeight(amount decimal.Decimal, history *models.RiskHistory) int {
	if history.PriorCount == 0 || !history.MeanAmount.IsPositive() {
		return 0
	}
	switch {
	case amount.GreaterThan(history.MeanAmount.Mul(three)):
		return 20
	case amount.GreaterThan(history.MeanAmount.Mul(two)):
		return 10
	}
	return 0
}

func ageWeight(age time.Duration) int {
	switch {
	case age < 7*24*time.Hour:
		return 15
	case age < 30*24*time.Hour:
		return 5
	}
	return 0
}

func typeWeight(t models.TransactionType) int {
	switch t {
	case models.TypeWithdrawal, models.TypeMobileWithdrawal:
		return 10
	case models.TypeTransfer:
		return 5
	}
	return 0
}
