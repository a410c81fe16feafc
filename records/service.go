// Package records converts raw ingest records into canonical bib records.
// The conversion is idempotent: the bib's UUID derives from the (source,
// remote id) pair, so re-processing the same remote record produces the
// same canonical identity (upsert semantics).
package records

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/openlibraryenvironment/dcb-service-sub007/errors"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// document is the source-native JSON shape the service understands.
type document struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Author             string             `json:"author"`
	Publisher          string             `json:"publisher"`
	PlaceOfPublication string             `json:"place_of_publication"`
	DateOfPublication  string             `json:"date_of_publication"`
	Edition            string             `json:"edition"`
	DerivedType        string             `json:"derived_type"`
	RecordStatus       string             `json:"record_status"`
	LargePrint         bool               `json:"large_print"`
	Identifiers        []types.Identifier `json:"identifiers"`
}

// Service is the default canonicalization service for JSON payloads.
type Service struct {
	logger *slog.Logger
}

// NewService creates a record service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// Process converts one raw record into its canonical bib record.
func (s *Service) Process(_ context.Context, rec types.RawIngestRecord) (types.BibRecord, error) {
	var doc document
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return types.BibRecord{}, errors.WrapInvalid(err, "Service", "Process", "decode payload")
	}

	bib := types.NewBibRecord(rec.SourceSystemID, rec.RemoteID)
	if doc.Title != "" {
		bib.SetTitle(doc.Title)
	}
	if doc.Author != "" {
		bib.SetAuthor(doc.Author)
	}
	if doc.Publisher != "" {
		bib.SetPublisher(doc.Publisher)
	}
	if doc.PlaceOfPublication != "" {
		bib.SetPlaceOfPublication(doc.PlaceOfPublication)
	}
	if doc.DateOfPublication != "" {
		bib.SetDateOfPublication(doc.DateOfPublication)
	}
	if doc.Edition != "" {
		bib.SetEdition(doc.Edition)
	}
	if doc.DerivedType != "" {
		bib.SetDerivedType(doc.DerivedType)
	}
	if doc.RecordStatus != "" {
		bib.SetRecordStatus(doc.RecordStatus)
	}
	if doc.LargePrint {
		bib.SetLargePrint(true)
	}

	for _, ident := range doc.Identifiers {
		ns := strings.TrimSpace(ident.Namespace)
		value := strings.TrimSpace(ident.Value)
		if ns == "" || value == "" {
			s.logger.Debug("dropping incomplete identifier",
				"source", rec.SourceSystemID, "remote_id", rec.RemoteID)
			continue
		}
		bib.AddIdentifier(ns, value)
	}

	return bib, nil
}
