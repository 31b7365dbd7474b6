package anaf

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
)

// statusTable maps the authority's free-text upload states, normalized to
// lower case and trimmed, to submission statuses.
var statusTable = map[string]model.SubmissionStatus{
	"ok":            model.SubmissionAccepted,
	"in prelucrare": model.SubmissionProcessing,
	"nok":           model.SubmissionRejected,
}

// MappedStatus is the outcome of the lookup.
type MappedStatus struct {
	Status model.SubmissionStatus
	Known  bool
}

// MapStatus translates a status response. A response with errors and no
// state is an error outcome; an unlisted state stays pending and is
// logged and counted so the table can be extended.
func MapStatus(resp *StatusResponse) MappedStatus {
	key := strings.ToLower(strings.TrimSpace(resp.Stare))
	if key == "" && len(resp.Errors) > 0 {
		return MappedStatus{Status: model.SubmissionError, Known: true}
	}
	if s, ok := statusTable[key]; ok {
		return MappedStatus{Status: s, Known: true}
	}
	log.Warn().Str("authority_status", resp.Stare).Msg("Unmapped authority status, keeping submission pending")
	monitoring.UnmappedAuthorityStatus.WithLabelValues(key).Inc()
	return MappedStatus{Status: model.SubmissionPending, Known: false}
}
