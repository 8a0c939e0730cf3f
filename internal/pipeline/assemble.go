package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/classifier"
	"github.com/sells-group/deal-tracker/internal/model"
	"github.com/sells-group/deal-tracker/internal/watchlist"
)

// Assemble turns per-page classification results into the flat deal list
// with parent links resolved.
//
// Two sweeps. The first creates framework (parent) deals, deduplicated
// per country: the first framework for a country wins its record, and
// every later page announcing the same framework only contributes a
// source document. The sweep produces the parent index, country code to
// parent identifier. The second sweep attaches corporate commitments as
// child deals through that index, so a commitment page is linked even
// when its framework is discovered later in the run. Commitments for a
// country with no framework anywhere in the run are dropped into the
// ledger.
func Assemble(results []classifier.PageResult, w *watchlist.Watchlist) ([]model.Deal, []model.ErrorRecord) {
	var (
		deals       []model.Deal
		errs        []model.ErrorRecord
		parentIndex = make(map[string]string) // country code -> parent deal id
		parentPos   = make(map[string]int)    // parent deal id -> index into deals
		byID        = make(map[string]int)
		seq         int
	)

	upsert := func(d model.Deal) {
		if i, dup := byID[d.ID]; dup {
			// Last write wins on an identifier collision.
			zap.L().Warn("duplicate deal id, replacing earlier record", zap.String("id", d.ID))
			deals[i] = d
			return
		}
		byID[d.ID] = len(deals)
		deals = append(deals, d)
	}

	for _, res := range results {
		if res.Framework == nil {
			continue
		}
		cc := res.Framework.CountryCode
		if pid, ok := parentIndex[cc]; ok {
			mergeSourceDocument(&deals[parentPos[pid]], res.Candidate)
			continue
		}
		seq++
		id := fmt.Sprintf("tpd-%s-%d", strings.ToLower(cc), seq)
		parentIndex[cc] = id
		parentPos[id] = len(deals)
		upsert(parentDeal(id, res, w))
	}

	childSeq := make(map[string]int)
	for _, res := range results {
		if len(res.Commitments) == 0 {
			continue
		}
		pid, ok := parentIndex[res.CountryCode]
		if !ok {
			errs = append(errs, model.ErrorRecord{
				Source: res.Candidate.SourceURL,
				Reason: fmt.Sprintf("dropped %d commitments: no framework found for %s", len(res.Commitments), res.CountryCode),
			})
			continue
		}
		for _, cm := range res.Commitments {
			childSeq[pid]++
			id := fmt.Sprintf("%s-%03d", pid, childSeq[pid])
			upsert(childDeal(id, pid, cm, res))
		}
	}

	return deals, errs
}

func parentDeal(id string, res classifier.PageResult, w *watchlist.Watchlist) model.Deal {
	fw := res.Framework
	date := res.Candidate.RawDate
	if date == "" {
		date = fw.DateSigned
	}
	return model.Deal{
		ID:              id,
		ParentID:        nil,
		SourceID:        res.Candidate.SourceID,
		SourceURL:       res.Candidate.SourceURL,
		Title:           fw.Title,
		Summary:         fw.Summary,
		Type:            model.DealTypeTrade,
		Status:          fw.Status,
		Parties:         []string{"United States", w.FormalName(fw.CountryCode)},
		DealValueUSD:    fw.TotalValueUSD,
		Country:         fw.CountryCode,
		Date:            date,
		DateSigned:      fw.DateSigned,
		Tags:            res.Candidate.Keywords,
		Sectors:         fw.Sectors,
		Signatories:     fw.Signatories,
		SourceDocuments: []model.SourceDocument{sourceDocument(res.Candidate)},
	}
}

func childDeal(id, parentID string, cm classifier.Commitment, res classifier.PageResult) model.Deal {
	pid := parentID
	var sectors []string
	if cm.Sector != "" {
		sectors = []string{cm.Sector}
	}
	return model.Deal{
		ID:                id,
		ParentID:          &pid,
		SourceID:          res.Candidate.SourceID,
		SourceURL:         res.Candidate.SourceURL,
		Title:             cm.Title,
		Summary:           cm.Summary,
		Type:              model.DealTypeBusiness,
		Status:            cm.Status,
		Parties:           cm.Parties,
		DealValueUSD:      cm.DealValueUSD,
		Country:           res.CountryCode,
		Date:              res.Candidate.RawDate,
		Tags:              res.Candidate.Keywords,
		Sectors:           sectors,
		CommitmentDetails: cm.CommitmentDetails,
	}
}

func sourceDocument(c model.RawCandidate) model.SourceDocument {
	label := c.Title
	if label == "" {
		label = c.Source
	}
	return model.SourceDocument{Label: label, URL: c.SourceURL}
}

func mergeSourceDocument(parent *model.Deal, c model.RawCandidate) {
	for _, doc := range parent.SourceDocuments {
		if doc.URL == c.SourceURL {
			return
		}
	}
	parent.SourceDocuments = append(parent.SourceDocuments, sourceDocument(c))
}
