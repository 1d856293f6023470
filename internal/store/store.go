package store

import (
	"context"
	"time"

	"github.com/leadline-ai/leadline/internal/model"
)

// Store defines the persistence interface for the call and campaign core.
//
// Webhook events for the same call can land concurrently, so call mutations
// are shaped to be additive (transcript concatenation) or last-write-wins
// (status patches) rather than read-modify-write.
type Store interface {
	// Agencies
	GetAgency(ctx context.Context, id string) (*model.Agency, error)
	UpsertAgency(ctx context.Context, a *model.Agency) error

	// Flows
	CreateFlow(ctx context.Context, flow *model.Flow) error
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	UpdateFlow(ctx context.Context, flow *model.Flow) error

	// Opportunities
	CreateOpportunities(ctx context.Context, opps []model.Opportunity) error
	GetOpportunity(ctx context.Context, id string) (*model.Opportunity, error)
	ListFlowOpportunities(ctx context.Context, flowID string) ([]model.Opportunity, error)
	UpdateOpportunityRank(ctx context.Context, id string, score float64, fitReason string) error
	UpdateOpportunityStatus(ctx context.Context, id string, status model.OpportunityStatus, meetingTime *time.Time) error

	// Audit jobs
	GetAuditJobByOpportunity(ctx context.Context, opportunityID string) (*model.AuditJob, error)
	CreateAuditJob(ctx context.Context, job *model.AuditJob) error
	UpdateAuditJob(ctx context.Context, job *model.AuditJob) error
	UpsertAuditPage(ctx context.Context, page *model.AuditPage) error
	ListAuditPages(ctx context.Context, jobID string) ([]model.AuditPage, error)

	// Calls
	CreateCall(ctx context.Context, call *model.Call) error
	GetCall(ctx context.Context, id string) (*model.Call, error)
	GetCallByProviderID(ctx context.Context, providerID string) (*model.Call, error)
	AttachProviderCall(ctx context.Context, callID, providerID string, monitorURLs []string) (bool, error)
	UpdateCallStatus(ctx context.Context, callID string, status model.CallStatus, currentStatus string, at time.Time) error
	AppendTranscript(ctx context.Context, callID string, frag model.TranscriptFragment, at time.Time) error
	CompleteCall(ctx context.Context, callID, summary, recordingURL, endedReason string, billingSeconds *int, at time.Time) error
	RecordMetering(ctx context.Context, callID string, m model.CallMetering) error
	MarkFollowUpSent(ctx context.Context, callID string, at time.Time) error
	UpdateCallOutcome(ctx context.Context, callID string, outcome model.CallOutcome, status model.CallStatus, currentStatus string, meetingTime *time.Time) error

	// Meetings
	CreateMeeting(ctx context.Context, m *model.Meeting) (bool, error)
	MeetingExistsAt(ctx context.Context, agencyID string, at time.Time) (bool, error)
	ListMeetings(ctx context.Context, agencyID string, from, to time.Time) ([]model.Meeting, error)

	// Tasks
	EnqueueTask(ctx context.Context, kind model.TaskKind, payload any, maxRetries int) (*model.Task, error)
	DueTasks(ctx context.Context, limit int) ([]model.Task, error)
	CompleteTask(ctx context.Context, id string) error
	RetryTask(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
