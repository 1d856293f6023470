package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/leadline-ai/leadline/internal/model"
)

// MemoryStore is an in-memory Store for tests and local development. It
// mirrors the Postgres implementation's semantics, including the
// meeting uniqueness guard and set-once provider id attach.
type MemoryStore struct {
	mu sync.Mutex

	agencies      map[string]*model.Agency
	flows         map[string]*model.Flow
	opportunities map[string]*model.Opportunity
	auditJobs     map[string]*model.AuditJob // keyed by job id
	auditPages    map[string]*model.AuditPage
	calls         map[string]*model.Call
	meetings      map[string]*model.Meeting
	tasks         map[string]*model.Task
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		agencies:      make(map[string]*model.Agency),
		flows:         make(map[string]*model.Flow),
		opportunities: make(map[string]*model.Opportunity),
		auditJobs:     make(map[string]*model.AuditJob),
		auditPages:    make(map[string]*model.AuditPage),
		calls:         make(map[string]*model.Call),
		meetings:      make(map[string]*model.Meeting),
		tasks:         make(map[string]*model.Task),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) UpsertAgency(_ context.Context, a *model.Agency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.agencies[a.ID] = &cp
	return nil
}

// PutAgency seeds an agency without a context; test helper.
func (s *MemoryStore) PutAgency(a *model.Agency) {
	_ = s.UpsertAgency(context.Background(), a)
}

func (s *MemoryStore) GetAgency(_ context.Context, id string) (*model.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[id]
	if !ok {
		return nil, eris.Errorf("memory: agency not found: %s", id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) CreateFlow(_ context.Context, flow *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	flow.CreatedAt = now
	flow.UpdatedAt = now
	s.flows[flow.ID] = cloneFlow(flow)
	return nil
}

func (s *MemoryStore) GetFlow(_ context.Context, id string) (*model.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, eris.Errorf("memory: flow not found: %s", id)
	}
	return cloneFlow(f), nil
}

func (s *MemoryStore) UpdateFlow(_ context.Context, flow *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flow.ID]; !ok {
		return eris.Errorf("memory: flow not found: %s", flow.ID)
	}
	flow.UpdatedAt = time.Now().UTC()
	s.flows[flow.ID] = cloneFlow(flow)
	return nil
}

func (s *MemoryStore) CreateOpportunities(_ context.Context, opps []model.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range opps {
		o := &opps[i]
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		o.CreatedAt = now
		o.UpdatedAt = now
		cp := *o
		s.opportunities[o.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) GetOpportunity(_ context.Context, id string) (*model.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opportunities[id]
	if !ok {
		return nil, eris.Errorf("memory: opportunity not found: %s", id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListFlowOpportunities(_ context.Context, flowID string) ([]model.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Opportunity
	for _, o := range s.opportunities {
		if o.FlowID == flowID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateOpportunityRank(_ context.Context, id string, score float64, fitReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opportunities[id]
	if !ok {
		return eris.Errorf("memory: opportunity not found: %s", id)
	}
	o.Score = score
	o.FitReason = fitReason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateOpportunityStatus(_ context.Context, id string, status model.OpportunityStatus, meetingTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opportunities[id]
	if !ok {
		return eris.Errorf("memory: opportunity not found: %s", id)
	}
	o.Status = status
	if meetingTime != nil {
		t := *meetingTime
		o.MeetingTime = &t
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetAuditJobByOpportunity(_ context.Context, opportunityID string) (*model.AuditJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.auditJobs {
		if j.OpportunityID == opportunityID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateAuditJob(_ context.Context, job *model.AuditJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.auditJobs {
		if j.OpportunityID == job.OpportunityID {
			return nil // conflict: existing job wins
		}
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.auditJobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateAuditJob(_ context.Context, job *model.AuditJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auditJobs[job.ID]; !ok {
		return eris.Errorf("memory: audit job not found: %s", job.ID)
	}
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	s.auditJobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) UpsertAuditPage(_ context.Context, page *model.AuditPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.auditPages {
		if p.JobID == page.JobID && p.URL == page.URL {
			p.Title = page.Title
			p.Status = page.Status
			p.BlobRef = page.BlobRef
			p.StatusCode = page.StatusCode
			p.UpdatedAt = time.Now().UTC()
			page.ID = p.ID
			return nil
		}
	}
	if page.ID == "" {
		page.ID = uuid.New().String()
	}
	page.UpdatedAt = time.Now().UTC()
	cp := *page
	s.auditPages[page.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAuditPages(_ context.Context, jobID string) ([]model.AuditPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditPage
	for _, p := range s.auditPages {
		if p.JobID == jobID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (s *MemoryStore) CreateCall(_ context.Context, call *model.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	call.CreatedAt = now
	call.UpdatedAt = now
	s.calls[call.ID] = cloneCall(call)
	return nil
}

func (s *MemoryStore) GetCall(_ context.Context, id string) (*model.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, eris.Errorf("memory: call not found: %s", id)
	}
	return cloneCall(c), nil
}

func (s *MemoryStore) GetCallByProviderID(_ context.Context, providerID string) (*model.Call, error) {
	if providerID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.ProviderCallID == providerID {
			return cloneCall(c), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) AttachProviderCall(_ context.Context, callID, providerID string, monitorURLs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return false, eris.Errorf("memory: call not found: %s", callID)
	}
	if c.ProviderCallID != "" {
		return false, nil
	}
	c.ProviderCallID = providerID
	c.MonitorURLs = append([]string(nil), monitorURLs...)
	c.Status = model.CallStatusQueued
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) UpdateCallStatus(_ context.Context, callID string, status model.CallStatus, currentStatus string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return eris.Errorf("memory: call not found: %s", callID)
	}
	c.Status = status
	c.CurrentStatus = currentStatus
	c.LastWebhookAt = &at
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) AppendTranscript(_ context.Context, callID string, frag model.TranscriptFragment, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return eris.Errorf("memory: call not found: %s", callID)
	}
	c.Transcript = append(c.Transcript, frag)
	c.LastWebhookAt = &at
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) CompleteCall(_ context.Context, callID, summary, recordingURL, endedReason string, billingSeconds *int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return eris.Errorf("memory: call not found: %s", callID)
	}
	c.Summary = summary
	c.RecordingURL = recordingURL
	c.EndedReason = endedReason
	if billingSeconds != nil {
		c.BillingSeconds = *billingSeconds
	}
	c.Status = model.CallStatusCompleted
	c.CurrentStatus = string(model.CallStatusCompleted)
	c.LastWebhookAt = &at
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) RecordMetering(_ context.Context, callID string, m model.CallMetering) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return eris.Errorf("memory: call not found: %s", callID)
	}
	c.Metadata.Metering = &m
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkFollowUpSent(_ context.Context, callID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return eris.Errorf("memory: call not found: %s", callID)
	}
	c.Metadata.FollowUpSentAt = &at
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateCallOutcome(_ context.Context, callID string, outcome model.CallOutcome, status model.CallStatus, currentStatus string, meetingTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return eris.Errorf("memory: call not found: %s", callID)
	}
	c.Outcome = outcome
	c.Status = status
	c.CurrentStatus = currentStatus
	if meetingTime != nil {
		t := *meetingTime
		c.MeetingTime = &t
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CreateMeeting(_ context.Context, m *model.Meeting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.meetings {
		if existing.AgencyID == m.AgencyID && existing.MeetingTime.Equal(m.MeetingTime) {
			return false, nil
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()
	cp := *m
	s.meetings[m.ID] = &cp
	return true, nil
}

func (s *MemoryStore) MeetingExistsAt(_ context.Context, agencyID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meetings {
		if m.AgencyID == agencyID && m.MeetingTime.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListMeetings(_ context.Context, agencyID string, from, to time.Time) ([]model.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Meeting
	for _, m := range s.meetings {
		if m.AgencyID != agencyID {
			continue
		}
		if m.MeetingTime.Before(from) || !m.MeetingTime.Before(to) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeetingTime.Before(out[j].MeetingTime) })
	return out, nil
}

func (s *MemoryStore) EnqueueTask(_ context.Context, kind model.TaskKind, payload any, maxRetries int) (*model.Task, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "memory: marshal task payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := &model.Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    payloadJSON,
		MaxRetries: maxRetries,
		NextRunAt:  time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return t, nil
}

func (s *MemoryStore) DueTasks(_ context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var out []model.Task
	for _, t := range s.tasks {
		if !t.NextRunAt.After(now) && t.RetryCount < t.MaxRetries {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CompleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) RetryTask(_ context.Context, id string, nextRunAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return eris.Errorf("memory: task not found: %s", id)
	}
	t.RetryCount++
	t.NextRunAt = nextRunAt
	t.LastError = lastErr
	return nil
}

func cloneFlow(f *model.Flow) *model.Flow {
	cp := *f
	cp.Phases = append([]model.PhaseState(nil), f.Phases...)
	cp.Places = append([]model.SourcedPlace(nil), f.Places...)
	if f.LastEvent != nil {
		e := *f.LastEvent
		cp.LastEvent = &e
	}
	if f.BillingBlock != nil {
		b := *f.BillingBlock
		cp.BillingBlock = &b
	}
	return &cp
}

func cloneCall(c *model.Call) *model.Call {
	cp := *c
	cp.MonitorURLs = append([]string(nil), c.MonitorURLs...)
	cp.Transcript = append([]model.TranscriptFragment(nil), c.Transcript...)
	if c.Metadata.Metering != nil {
		m := *c.Metadata.Metering
		cp.Metadata.Metering = &m
	}
	if c.Metadata.FollowUpSentAt != nil {
		t := *c.Metadata.FollowUpSentAt
		cp.Metadata.FollowUpSentAt = &t
	}
	return &cp
}
