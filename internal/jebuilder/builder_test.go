package jebuilder

import (
	"testing"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/stretchr/testify/assert"
)

func coa() map[string]domain.Account {
	return map[string]domain.Account{
		"1000": {Code: "1000", Name: "Cash", Type: domain.AccountAsset},
		"6100": {Code: "6100", Name: "Office Supplies", Type: domain.AccountExpense},
	}
}

func TestBuildOutflowDebitsExpenseCreditsCash(t *testing.T) {
	in := Input{
		Tenant:      domain.Tenant{CashAccountCode: "1000"},
		Transaction: domain.Transaction{TxnID: "t1", AmountMinor: -1245, DescriptionRaw: "AMZN Mktp"},
		AccountCode: "6100",
		CoA:         coa(),
		Route:       "auto_post",
	}
	je, err := Build(in)
	assert.NoError(t, err)
	assert.True(t, je.Balanced())
	assert.Len(t, je.Lines, 2)
	assert.Equal(t, "6100", je.Lines[0].AccountCode)
	assert.Equal(t, int64(1245), je.Lines[0].DebitMinor)
	assert.Equal(t, "1000", je.Lines[1].AccountCode)
	assert.Equal(t, int64(1245), je.Lines[1].CreditMinor)
	assert.Equal(t, domain.JEProposed, je.Status)
}

func TestBuildInflowDebitsCashCreditsAccount(t *testing.T) {
	in := Input{
		Tenant:      domain.Tenant{CashAccountCode: "1000"},
		Transaction: domain.Transaction{TxnID: "t2", AmountMinor: 5000},
		AccountCode: "6100",
		CoA:         coa(),
	}
	je, err := Build(in)
	assert.NoError(t, err)
	assert.True(t, je.Balanced())
	assert.Equal(t, "1000", je.Lines[0].AccountCode)
	assert.Equal(t, int64(5000), je.Lines[0].DebitMinor)
	assert.Equal(t, "6100", je.Lines[1].AccountCode)
	assert.Equal(t, int64(5000), je.Lines[1].CreditMinor)
}

func TestBuildUnknownAccountCodeErrors(t *testing.T) {
	in := Input{
		Tenant:      domain.Tenant{CashAccountCode: "1000"},
		Transaction: domain.Transaction{AmountMinor: -100},
		AccountCode: "9999",
		CoA:         coa(),
	}
	_, err := Build(in)
	assert.Error(t, err)
	var unknown ErrUnknownAccount
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "9999", unknown.Code)
}

func TestBuildUnknownCashAccountErrors(t *testing.T) {
	in := Input{
		Tenant:      domain.Tenant{CashAccountCode: "4242"},
		Transaction: domain.Transaction{AmountMinor: -100},
		AccountCode: "6100",
		CoA:         coa(),
	}
	_, err := Build(in)
	assert.Error(t, err)
}

func TestBuildNeverProducesUnbalancedJE(t *testing.T) {
	amounts := []int64{-1, 0, 1, 999999, -999999}
	for _, amt := range amounts {
		in := Input{
			Tenant:      domain.Tenant{CashAccountCode: "1000"},
			Transaction: domain.Transaction{AmountMinor: amt},
			AccountCode: "6100",
			CoA:         coa(),
		}
		je, err := Build(in)
		assert.NoError(t, err)
		assert.True(t, je.Balanced())
	}
}
