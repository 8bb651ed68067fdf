package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/agenda-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// Provider is the external calendar API.
type Provider interface {
	CreateEvent(ctx context.Context, tok *Token, ev Event) (CreatedEvent, error)
	// DeleteEvent treats an already deleted event as success.
	DeleteEvent(ctx context.Context, tok *Token, eventID string) error
	ListCalendars(ctx context.Context, tok *Token) ([]CalendarInfo, error)
	PrimaryCalendar(ctx context.Context, tok *Token) (CalendarInfo, error)
}

// GoogleProvider talks to Google Calendar v3.
type GoogleProvider struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	metrics    *metrics.CalendarMetrics
	logger     *logging.Logger
}

// ProviderOption customizes a GoogleProvider.
type ProviderOption func(*GoogleProvider)

// WithBaseURL points the client at another API root.
func WithBaseURL(url string) ProviderOption {
	return func(p *GoogleProvider) { p.baseURL = url }
}

func WithProviderMetrics(m *metrics.CalendarMetrics) ProviderOption {
	return func(p *GoogleProvider) { p.metrics = m }
}

func NewGoogleProvider(timeout time.Duration, logger *logging.Logger, opts ...ProviderOption) *GoogleProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &GoogleProvider{
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GoogleProvider) service(ctx context.Context, tok *Token) (*calendar.Service, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
	}))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.baseURL != "" {
		opts = append(opts, option.WithEndpoint(p.baseURL))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendarsync: build calendar client: %w", err)
	}
	return svc, nil
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, tok *Token, ev Event) (CreatedEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	svc, err := p.service(ctx, tok)
	if err != nil {
		return CreatedEvent{}, err
	}

	event := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{"appointment_id": ev.RequestID},
		},
	}
	call := svc.Events.Insert(tok.Calendar(), event).Context(ctx)
	if ev.MeetLink {
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             ev.RequestID,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
		call = call.ConferenceDataVersion(1)
	}

	started := time.Now()
	created, err := call.Do()
	p.observe("insert", started, err)
	if err != nil {
		return CreatedEvent{}, wrapGoogleErr("insert event", err)
	}
	return CreatedEvent{ID: created.Id, MeetingLink: meetingLink(created)}, nil
}

func (p *GoogleProvider) DeleteEvent(ctx context.Context, tok *Token, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	svc, err := p.service(ctx, tok)
	if err != nil {
		return err
	}

	started := time.Now()
	err = svc.Events.Delete(tok.Calendar(), eventID).Context(ctx).Do()
	p.observe("delete", started, err)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			p.logger.Debug("calendar event already gone", "event_id", eventID, "status", gerr.Code)
			return nil
		}
		return wrapGoogleErr("delete event", err)
	}
	return nil
}

func (p *GoogleProvider) ListCalendars(ctx context.Context, tok *Token) ([]CalendarInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	svc, err := p.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	list, err := svc.CalendarList.List().MinAccessRole("writer").Context(ctx).Do()
	p.observe("list_calendars", started, err)
	if err != nil {
		return nil, wrapGoogleErr("list calendars", err)
	}
	out := make([]CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, CalendarInfo{ID: item.Id, Summary: item.Summary, Primary: item.Primary, TimeZone: item.TimeZone})
	}
	return out, nil
}

// PrimaryCalendar returns the account's primary calendar; its id is the account email.
func (p *GoogleProvider) PrimaryCalendar(ctx context.Context, tok *Token) (CalendarInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	svc, err := p.service(ctx, tok)
	if err != nil {
		return CalendarInfo{}, err
	}

	started := time.Now()
	entry, err := svc.CalendarList.Get("primary").Context(ctx).Do()
	p.observe("get_primary", started, err)
	if err != nil {
		return CalendarInfo{}, wrapGoogleErr("get primary calendar", err)
	}
	return CalendarInfo{ID: entry.Id, Summary: entry.Summary, Primary: true, TimeZone: entry.TimeZone}, nil
}

func (p *GoogleProvider) observe(op string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.ObserveProviderLatency(op, status, time.Since(started).Seconds())
}

func meetingLink(ev *calendar.Event) string {
	if ev.HangoutLink != "" {
		return ev.HangoutLink
	}
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				return ep.Uri
			}
		}
	}
	return ""
}

func wrapGoogleErr(op string, err error) error {
	pe := &ProviderError{Op: op, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		pe.StatusCode = gerr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		pe.Timeout = true
	}
	return pe
}
