package matchkey

import (
	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub007/match"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// Namespace is the matchpoint namespace the approximate key is filed under.
const Namespace = "GOLDRUSH"

// Deriver plugs the approximate key into the matchpoint engine as an
// additional record-level matching strategy. It is not wired in by default;
// enable it with match.WithKeyDeriver.
type Deriver struct{}

// NewDeriver creates a key deriver.
func NewDeriver() *Deriver { return &Deriver{} }

// MatchPoints derives one approximate-key matchpoint from the bib's
// descriptive metadata. A bib with no usable title produces nothing: a key
// that is all padding would cluster unrelated records.
func (d *Deriver) MatchPoints(bib *types.BibRecord) []types.MatchPoint {
	in := Inputs{
		TitleFragments:   []string{bib.Title()},
		MediaDesignation: bib.DerivedType(),
		PublicationYear:  bib.DateOfPublication(),
		Edition:          bib.Edition(),
		Publisher:        bib.Publisher(),
	}
	if normalize(bib.Title()) == "" {
		return nil
	}

	key := Derive(in)
	return []types.MatchPoint{{
		ID:          uuid.New(),
		Value:       match.DeriveValue(Namespace, key),
		SourceValue: Namespace + ":" + key,
	}}
}
