package types

import (
	"encoding/json"

	"github.com/google/uuid"
)

// NamespaceRecords is the UUID namespace for deterministic record identity.
// Record UUIDs are stable across re-ingestion of the same
// (sourceSystemID, remoteID) pair.
var NamespaceRecords = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("records.dcb"))

// RawIngestRecord is one record as emitted by a source before any
// normalization. It is exclusively owned by the pipeline stage currently
// holding it and is discarded once converted to a canonical record.
type RawIngestRecord struct {
	ID             uuid.UUID       `json:"id"`
	SourceSystemID string          `json:"source_system_id"`
	RemoteID       string          `json:"remote_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewRawIngestRecord builds a record with its deterministic UUID derived
// from (sourceSystemID, remoteID).
func NewRawIngestRecord(sourceSystemID, remoteID string, payload []byte) RawIngestRecord {
	return RawIngestRecord{
		ID:             RecordUUID(sourceSystemID, remoteID),
		SourceSystemID: sourceSystemID,
		RemoteID:       remoteID,
		Payload:        payload,
	}
}

// RecordUUID derives the stable UUID for a (sourceSystemID, remoteID) pair.
func RecordUUID(sourceSystemID, remoteID string) uuid.UUID {
	return uuid.NewSHA1(NamespaceRecords, []byte(sourceSystemID+":"+remoteID))
}

// Canonical metadata keys. Typed accessors and generic map access agree on
// these keys by construction.
const (
	MetaTitle              = "title"
	MetaAuthor             = "author"
	MetaPublisher          = "publisher"
	MetaPlaceOfPublication = "placeOfPublication"
	MetaDateOfPublication  = "dateOfPublication"
	MetaEdition            = "edition"
	MetaDerivedType        = "derivedType"
	MetaRecordStatus       = "recordStatus"
	MetaLargePrint         = "largePrint"
)

// Identifier is one (namespace, value) pair carried by a bib record, e.g.
// ("ISBN", "978-0-13-468599-1") or ("OCLC", "ocm01234567").
type Identifier struct {
	Namespace string `json:"namespace"`
	Value     string `json:"value"`
}

// BibRecord is the canonical bibliographic record: the normalized
// representation of one bibliographic description from one source.
//
// ClusterID is nil until an external clustering decision assigns one.
type BibRecord struct {
	ID             uuid.UUID         `json:"id"`
	SourceSystemID string            `json:"source_system_id"`
	SourceRecordID string            `json:"source_record_id"`
	ClusterID      *uuid.UUID        `json:"cluster_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Identifiers    []Identifier      `json:"identifiers,omitempty"`
}

// NewBibRecord builds a bib record with its stable UUID derived from
// (sourceSystemID, sourceRecordID) - the same derivation as the raw record,
// so re-ingestion of the same remote record updates rather than duplicates.
func NewBibRecord(sourceSystemID, sourceRecordID string) BibRecord {
	return BibRecord{
		ID:             RecordUUID(sourceSystemID, sourceRecordID),
		SourceSystemID: sourceSystemID,
		SourceRecordID: sourceRecordID,
		Metadata:       make(map[string]string),
	}
}

func (b *BibRecord) meta(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}

func (b *BibRecord) setMeta(key, value string) {
	if b.Metadata == nil {
		b.Metadata = make(map[string]string)
	}
	b.Metadata[key] = value
}

// Title returns the canonical title.
func (b *BibRecord) Title() string { return b.meta(MetaTitle) }

// SetTitle stores the canonical title.
func (b *BibRecord) SetTitle(v string) { b.setMeta(MetaTitle, v) }

// Author returns the canonical author.
func (b *BibRecord) Author() string { return b.meta(MetaAuthor) }

// SetAuthor stores the canonical author.
func (b *BibRecord) SetAuthor(v string) { b.setMeta(MetaAuthor, v) }

// Publisher returns the canonical publisher.
func (b *BibRecord) Publisher() string { return b.meta(MetaPublisher) }

// SetPublisher stores the canonical publisher.
func (b *BibRecord) SetPublisher(v string) { b.setMeta(MetaPublisher, v) }

// PlaceOfPublication returns the canonical place of publication.
func (b *BibRecord) PlaceOfPublication() string { return b.meta(MetaPlaceOfPublication) }

// SetPlaceOfPublication stores the canonical place of publication.
func (b *BibRecord) SetPlaceOfPublication(v string) { b.setMeta(MetaPlaceOfPublication, v) }

// DateOfPublication returns the canonical date of publication.
func (b *BibRecord) DateOfPublication() string { return b.meta(MetaDateOfPublication) }

// SetDateOfPublication stores the canonical date of publication.
func (b *BibRecord) SetDateOfPublication(v string) { b.setMeta(MetaDateOfPublication, v) }

// Edition returns the canonical edition statement.
func (b *BibRecord) Edition() string { return b.meta(MetaEdition) }

// SetEdition stores the canonical edition statement.
func (b *BibRecord) SetEdition(v string) { b.setMeta(MetaEdition, v) }

// DerivedType returns the derived material type.
func (b *BibRecord) DerivedType() string { return b.meta(MetaDerivedType) }

// SetDerivedType stores the derived material type.
func (b *BibRecord) SetDerivedType(v string) { b.setMeta(MetaDerivedType, v) }

// RecordStatus returns the source record status.
func (b *BibRecord) RecordStatus() string { return b.meta(MetaRecordStatus) }

// SetRecordStatus stores the source record status.
func (b *BibRecord) SetRecordStatus(v string) { b.setMeta(MetaRecordStatus, v) }

// LargePrint reports whether the record describes a large-print item.
func (b *BibRecord) LargePrint() bool { return b.meta(MetaLargePrint) == "true" }

// SetLargePrint stores the large-print flag.
func (b *BibRecord) SetLargePrint(v bool) {
	if v {
		b.setMeta(MetaLargePrint, "true")
	} else {
		b.setMeta(MetaLargePrint, "false")
	}
}

// AddIdentifier appends one identifier to the record.
func (b *BibRecord) AddIdentifier(namespace, value string) {
	b.Identifiers = append(b.Identifiers, Identifier{Namespace: namespace, Value: value})
}
