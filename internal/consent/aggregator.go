// Package consent combines per-party consent records into an overall verdict
// under a consensus mechanism.
package consent

import (
	"fmt"
	"strings"

	"github.com/sanjabh11/consultflow/model"
)

// QuasiUnanimousThreshold is the share of consenting parties at which a
// quasi-unanimous consultation reaches full consent.
const QuasiUnanimousThreshold = 0.8

// Calculate derives the overall verdict for the given consents. consents
// must hold exactly one record per consulted party (see Reconcile), so its
// length is the party count. With no parties the verdict is none.
//
//   - unanimous: full iff every party consents, partial if some do.
//   - majority: majority iff consenting > total/2, partial if some do.
//   - quasi_unanimous: full at >= 80 %, majority above 50 %, partial if some do.
func Calculate(consents []model.PartyConsent, mechanism model.ConsensusMechanism) (model.OverallConsent, error) {
	if !mechanism.Valid() {
		return "", model.NewInvalidConsensusInputError(fmt.Sprintf("unknown consensus mechanism %q", mechanism))
	}

	total := len(consents)
	given := 0
	for _, pc := range consents {
		if pc.ConsentGiven {
			given++
		}
	}
	if total == 0 || given == 0 {
		return model.ConsentNone, nil
	}

	switch mechanism {
	case model.ConsensusUnanimous:
		if given == total {
			return model.ConsentFull, nil
		}
	case model.ConsensusMajority:
		if 2*given > total {
			return model.ConsentMajority, nil
		}
	case model.ConsensusQuasiUnanimous:
		// Integer form of given/total >= 0.8 keeps the boundary exact.
		if 5*given >= 4*total {
			return model.ConsentFull, nil
		}
		if 2*given > total {
			return model.ConsentMajority, nil
		}
	}
	return model.ConsentPartial, nil
}

// Validate rejects malformed party consent records.
func Validate(pc model.PartyConsent) error {
	if strings.TrimSpace(pc.PartyID) == "" {
		return model.NewInvalidConsensusInputError("party_id is required")
	}
	for i, c := range pc.Conditions {
		if strings.TrimSpace(c) == "" {
			return model.NewInvalidConsensusInputError(fmt.Sprintf("conditions[%d] is blank", i))
		}
	}
	return nil
}

// Upsert replaces the record for pc.PartyID or appends it, returning a new
// slice. The input slice is not modified.
func Upsert(consents []model.PartyConsent, pc model.PartyConsent) []model.PartyConsent {
	out := make([]model.PartyConsent, 0, len(consents)+1)
	replaced := false
	for _, existing := range consents {
		if existing.PartyID == pc.PartyID {
			out = append(out, pc)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, pc)
	}
	return out
}

// Reconcile returns one record per party, in party order: the existing record
// when there is one, otherwise a pending record with consent not given.
// Records of parties that are no longer listed are dropped. The input slice
// is not modified.
func Reconcile(consents []model.PartyConsent, parties []model.Party) []model.PartyConsent {
	byID := make(map[string]model.PartyConsent, len(consents))
	for _, pc := range consents {
		byID[pc.PartyID] = pc
	}
	out := make([]model.PartyConsent, 0, len(parties))
	for _, p := range parties {
		pc, ok := byID[p.ID]
		if !ok {
			pc = model.PartyConsent{PartyID: p.ID}
		}
		if pc.PartyName == "" {
			pc.PartyName = p.Name
		}
		out = append(out, pc)
	}
	return out
}
