package natsclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub007/errors"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// DefaultClusterSubject is the subject cluster-change events are published
// on when none is configured.
const DefaultClusterSubject = "dcb.cluster.changes"

// ClusterChangeEvent is the wire form of one cluster-membership change: a
// bib whose matchpoint set was just reconciled, together with that set. An
// external clustering decision-maker consumes these to merge or split
// clusters.
type ClusterChangeEvent struct {
	BibID          string             `json:"bib_id"`
	SourceSystemID string             `json:"source_system_id"`
	SourceRecordID string             `json:"source_record_id"`
	MatchPoints    []types.MatchPoint `json:"match_points"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Notifier publishes cluster-change events over NATS.
type Notifier struct {
	client  *Client
	subject string
}

// NewNotifier creates a notifier. An empty subject selects
// DefaultClusterSubject.
func NewNotifier(client *Client, subject string) *Notifier {
	if subject == "" {
		subject = DefaultClusterSubject
	}
	return &Notifier{client: client, subject: subject}
}

// NotifyClusterChange publishes one event for a reconciled bib.
func (n *Notifier) NotifyClusterChange(ctx context.Context, bib types.BibRecord, points []types.MatchPoint) error {
	event := ClusterChangeEvent{
		BibID:          bib.ID.String(),
		SourceSystemID: bib.SourceSystemID,
		SourceRecordID: bib.SourceRecordID,
		MatchPoints:    points,
		Timestamp:      time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapInvalid(err, "Notifier", "NotifyClusterChange", "encode event")
	}
	if err := n.client.Publish(ctx, n.subject, data); err != nil {
		return errors.WrapTransient(err, "Notifier", "NotifyClusterChange", "publish event")
	}
	return nil
}
