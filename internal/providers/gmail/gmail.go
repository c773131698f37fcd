package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/mailparse"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Provider implements the mail provider contract for per-user Gmail OAuth
// integrations. Change notifications arrive as Pub/Sub push envelopes and
// the mailbox diff comes from the history API.
type Provider struct {
	name            string
	clientID        string
	clientSecret    string
	quarantineLabel string
	logger          *zap.Logger

	// tokenSource overrides how API credentials are obtained; nil means
	// the connection's stored access token
	tokenSource func(ctx context.Context, conn *core.IntegrationConnection) (oauth2.TokenSource, error)

	mu       sync.Mutex
	labelIDs map[string]string // integration ID -> quarantine label ID
}

// NewProvider creates a new Gmail provider adapter
func NewProvider(clientID, clientSecret, quarantineLabel string, logger *zap.Logger) *Provider {
	return &Provider{
		name:            core.ProviderGmail,
		clientID:        clientID,
		clientSecret:    clientSecret,
		quarantineLabel: quarantineLabel,
		logger:          logger,
		labelIDs:        make(map[string]string),
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return p.name
}

// pushEnvelope is the Pub/Sub push wrapper around a Gmail watch notification
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// watchPayload is the base64-decoded Gmail watch notification body
type watchPayload struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// ParseNotification decodes a Pub/Sub push envelope into a normalized
// notification
func (p *Provider) ParseNotification(payload []byte) (*core.Notification, error) {
	var envelope pushEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, core.MalformedError(fmt.Errorf("failed to decode push envelope: %w", err))
	}
	if envelope.Message.Data == "" {
		return nil, core.MalformedError(fmt.Errorf("push envelope has no message data"))
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		// Pub/Sub documents standard encoding but URL-safe shows up in
		// the wild
		decoded, err = base64.URLEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return nil, core.MalformedError(fmt.Errorf("failed to decode message data: %w", err))
		}
	}

	var watch watchPayload
	if err := json.Unmarshal(decoded, &watch); err != nil {
		return nil, core.MalformedError(fmt.Errorf("failed to decode watch payload: %w", err))
	}
	if watch.EmailAddress == "" {
		return nil, core.MalformedError(fmt.Errorf("watch payload has no email address"))
	}

	return &core.Notification{
		Provider:     core.ProviderGmail,
		EmailAddress: watch.EmailAddress,
		Cursor:       strconv.FormatUint(watch.HistoryID, 10),
	}, nil
}

// DiffSince lists message refs added since the given history cursor. An
// empty cursor means the integration has never synced; the current profile
// history ID is returned as the new baseline with no refs.
func (p *Provider) DiffSince(ctx context.Context, conn *core.IntegrationConnection, cursor string) ([]string, string, error) {
	svc, err := p.service(ctx, conn)
	if err != nil {
		return nil, "", err
	}

	if cursor == "" {
		profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return nil, "", classifyAPIError(err)
		}
		return nil, strconv.FormatUint(profile.HistoryId, 10), nil
	}

	start, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, "", core.MalformedError(fmt.Errorf("invalid history cursor %q: %w", cursor, err))
	}

	var refs []string
	maxHistoryID := start
	pageToken := ""
	for {
		call := svc.Users.History.List("me").
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
				// History expired; rebaseline from the current profile
				// and let the next notification pick up from there.
				p.logger.Warn("Gmail history cursor expired, rebaselining",
					zap.String("integration_id", conn.ID))
				profile, perr := svc.Users.GetProfile("me").Context(ctx).Do()
				if perr != nil {
					return nil, "", classifyAPIError(perr)
				}
				return nil, strconv.FormatUint(profile.HistoryId, 10), nil
			}
			return nil, "", classifyAPIError(err)
		}

		for _, h := range resp.History {
			if h.Id > maxHistoryID {
				maxHistoryID = h.Id
			}
			for _, added := range h.MessagesAdded {
				if added.Message != nil {
					refs = append(refs, added.Message.Id)
				}
			}
		}
		if resp.HistoryId > maxHistoryID {
			maxHistoryID = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return dedupe(refs), strconv.FormatUint(maxHistoryID, 10), nil
}

// FetchMessage retrieves the raw RFC 2822 message and parses it
func (p *Provider) FetchMessage(ctx context.Context, conn *core.IntegrationConnection, ref string) (*core.Email, error) {
	svc, err := p.service(ctx, conn)
	if err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get("me", ref).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError(err)
	}

	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		return nil, core.MalformedError(fmt.Errorf("failed to decode raw message %s: %w", ref, err))
	}

	email, err := mailparse.ParseRaw(raw)
	if err != nil {
		return nil, core.MalformedError(fmt.Errorf("failed to parse message %s: %w", ref, err))
	}
	email.MessageID = ref
	return email, nil
}

// Quarantine moves the message under the quarantine label and out of the inbox
func (p *Provider) Quarantine(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	svc, err := p.service(ctx, conn)
	if err != nil {
		return err
	}
	labelID, err := p.ensureQuarantineLabel(ctx, svc, conn.ID)
	if err != nil {
		return err
	}

	_, err = svc.Users.Messages.Modify("me", ref, &gmailapi.ModifyMessageRequest{
		AddLabelIds:    []string{labelID},
		RemoveLabelIds: []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return classifyAPIError(err)
	}
	return nil
}

// Restore returns a quarantined message to the inbox
func (p *Provider) Restore(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	svc, err := p.service(ctx, conn)
	if err != nil {
		return err
	}
	labelID, err := p.ensureQuarantineLabel(ctx, svc, conn.ID)
	if err != nil {
		return err
	}

	_, err = svc.Users.Messages.Modify("me", ref, &gmailapi.ModifyMessageRequest{
		AddLabelIds:    []string{"INBOX"},
		RemoveLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return classifyAPIError(err)
	}
	return nil
}

// Delete permanently removes the message
func (p *Provider) Delete(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	svc, err := p.service(ctx, conn)
	if err != nil {
		return err
	}
	if err := svc.Users.Messages.Delete("me", ref).Context(ctx).Do(); err != nil {
		return classifyAPIError(err)
	}
	return nil
}

// RefreshCredentials exchanges the refresh token for a new access token.
// The domain-wide variant mints a fresh token from its service account
// instead.
func (p *Provider) RefreshCredentials(ctx context.Context, conn *core.IntegrationConnection) (string, int64, error) {
	if p.tokenSource != nil {
		ts, err := p.tokenSource(ctx, conn)
		if err != nil {
			return "", 0, core.CredentialError(fmt.Errorf("failed to build token source: %w", err))
		}
		token, err := ts.Token()
		if err != nil {
			return "", 0, core.CredentialError(fmt.Errorf("failed to mint impersonated token: %w", err))
		}
		return token.AccessToken, token.Expiry.Unix(), nil
	}

	cfg := &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     google.Endpoint,
	}
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken}).Token()
	if err != nil {
		return "", 0, core.CredentialError(fmt.Errorf("failed to refresh gmail token: %w", err))
	}
	return token.AccessToken, token.Expiry.Unix(), nil
}

// service builds a Gmail API client using the connection's current access
// token. Token refresh is the ingest gateway's responsibility, so a static
// token source is enough here.
func (p *Provider) service(ctx context.Context, conn *core.IntegrationConnection) (*gmailapi.Service, error) {
	var ts oauth2.TokenSource
	if p.tokenSource != nil {
		var err error
		ts, err = p.tokenSource(ctx, conn)
		if err != nil {
			return nil, err
		}
	} else {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: conn.AccessToken})
	}
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, core.TransientError(fmt.Errorf("failed to create gmail client: %w", err))
	}
	return svc, nil
}

// ensureQuarantineLabel finds or creates the quarantine label in the user's
// mailbox, caching the ID per integration
func (p *Provider) ensureQuarantineLabel(ctx context.Context, svc *gmailapi.Service, integrationID string) (string, error) {
	p.mu.Lock()
	if id, ok := p.labelIDs[integrationID]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	labels, err := svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError(err)
	}
	for _, l := range labels.Labels {
		if l.Name == p.quarantineLabel {
			p.cacheLabelID(integrationID, l.Id)
			return l.Id, nil
		}
	}

	created, err := svc.Users.Labels.Create("me", &gmailapi.Label{
		Name:                  p.quarantineLabel,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "hide",
	}).Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError(err)
	}
	p.cacheLabelID(integrationID, created.Id)
	return created.Id, nil
}

func (p *Provider) cacheLabelID(integrationID, labelID string) {
	p.mu.Lock()
	p.labelIDs[integrationID] = labelID
	p.mu.Unlock()
}

func dedupe(refs []string) []string {
	if len(refs) < 2 {
		return refs
	}
	seen := make(map[string]struct{}, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// classifyAPIError maps Gmail API failures onto the retry taxonomy at the
// point of observation
func classifyAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return core.CredentialError(err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return core.TransientError(err)
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusBadRequest:
			return core.TerminalError(err)
		}
	}
	return core.TransientError(err)
}
