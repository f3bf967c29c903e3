package parser

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// programAddressSuffix is the all-zero padding carried by program-owned accounts
const programAddressSuffix = "11111111111111111111111111111"

// Purchase is the receiving wallet and token gain of one transaction
type Purchase struct {
	WalletAddress string
	TokenAmount   decimal.Decimal
}

// SwapParser extracts token purchases from resolved transactions
type SwapParser struct {
	logger *logrus.Entry
}

// NewSwapParser creates a new swap parser
func NewSwapParser() *SwapParser {
	return &SwapParser{logger: utils.ComponentLogger("parser")}
}

// Parse returns the buyer of mint in tx: the owner of the token account with
// the largest positive balance change. The first account wins a tie. A failed
// or malformed transaction, or one without a user recipient, yields ok false.
func (p *SwapParser) Parse(tx *models.Transaction, mint string) (purchase Purchase, ok bool) {
	if tx == nil || tx.Failed || len(tx.PostBalances) == 0 {
		return Purchase{}, false
	}

	pre := make(map[int]decimal.Decimal, len(tx.PreBalances))
	for _, b := range tx.PreBalances {
		if b.Mint == mint {
			pre[b.AccountIndex] = b.Amount
		}
	}

	var best *models.TokenBalance
	var bestDelta decimal.Decimal
	for i := range tx.PostBalances {
		post := &tx.PostBalances[i]
		if post.Mint != mint || !isUserOwner(post.Owner) {
			continue
		}
		// A missing pre balance is a freshly created account
		delta := post.Amount.Sub(pre[post.AccountIndex])
		if !delta.IsPositive() {
			continue
		}
		if best == nil || delta.GreaterThan(bestDelta) {
			best = post
			bestDelta = delta
		}
	}

	if best == nil {
		p.logger.WithField("signature", tx.Signature).Debug("No token recipient in transaction")
		return Purchase{}, false
	}
	return Purchase{WalletAddress: best.Owner, TokenAmount: bestDelta}, true
}

func isUserOwner(owner string) bool {
	return owner != "" && !strings.HasSuffix(owner, programAddressSuffix)
}
